package config

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"time"

	hcl "github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclsyntax"

	"github.com/apparentlymart/ocipfs-registry/internal/ipfs"
)

const (
	DefaultListenAddr     = ":5000"
	DefaultGatewayURL     = "https://ipfs.io/"
	DefaultGatewayTimeout = 30 * time.Second
)

type Config struct {
	Server  *Server
	Gateway *Gateway

	Filename string
}

type Server struct {
	ListenAddr  string
	MetricsAddr string
	TLS         *TLSConfig

	DeclRange hcl.Range
}

// TLSConfig uses either a fixed certificate or certificates obtained
// automatically over ACME, but never both.
type TLSConfig struct {
	Certificate *tls.Certificate

	ACMEDomains  []string
	ACMECacheDir string
}

type Gateway struct {
	URL         *url.URL
	RedirectURL *url.URL
	Timeout     time.Duration

	DeclRange hcl.Range
}

// Default returns the configuration used when there is no configuration
// file at all.
func Default() *Config {
	gatewayURL, err := url.Parse(DefaultGatewayURL)
	if err != nil {
		panic(err)
	}
	return &Config{
		Server: &Server{
			ListenAddr: DefaultListenAddr,
		},
		Gateway: &Gateway{
			URL:         gatewayURL,
			RedirectURL: gatewayURL,
			Timeout:     DefaultGatewayTimeout,
		},
	}
}

func LoadConfigFile(filename string) (*Config, hcl.Diagnostics) {
	src, err := os.ReadFile(filename)
	if err != nil {
		return nil, hcl.Diagnostics{
			{
				Severity: hcl.DiagError,
				Summary:  "Cannot read configuration file",
				Detail:   fmt.Sprintf("Failed to read %s: %s.", filename, err),
			},
		}
	}
	return LoadConfig(src, filename)
}

func LoadConfig(src []byte, filename string) (*Config, hcl.Diagnostics) {
	f, diags := hclsyntax.ParseConfig(src, filename, hcl.InitialPos)
	if diags.HasErrors() {
		return nil, diags
	}

	content, moreDiags := f.Body.Content(rootSchema)
	diags = append(diags, moreDiags...)
	if moreDiags.HasErrors() {
		return nil, diags
	}

	ret := &Config{
		Filename: filename,
	}

	for _, block := range content.Blocks {

		switch block.Type {
		case "server":
			serverConfig, moreDiags := decodeServerConfig(block)
			diags = append(diags, moreDiags...)
			if ret.Server != nil {
				diags = diags.Append(&hcl.Diagnostic{
					Severity: hcl.DiagError,
					Summary:  "Duplicate server configuration",
					Detail:   fmt.Sprintf("The server was already configured at %s.", ret.Server.DeclRange),
					Subject:  block.DefRange.Ptr(),
				})
				continue
			}
			ret.Server = serverConfig

		case "gateway":
			gatewayConfig, moreDiags := decodeGatewayConfig(block)
			diags = append(diags, moreDiags...)
			if ret.Gateway != nil {
				diags = diags.Append(&hcl.Diagnostic{
					Severity: hcl.DiagError,
					Summary:  "Duplicate gateway configuration",
					Detail:   fmt.Sprintf("The gateway was already configured at %s.", ret.Gateway.DeclRange),
					Subject:  block.DefRange.Ptr(),
				})
				continue
			}
			ret.Gateway = gatewayConfig

		default:
			// Should not get here because only the cases above are in our schema.
			panic(fmt.Sprintf("unexpected block type %q", block.Type))
		}
	}

	// Both blocks are optional, in which case we use the defaults.
	defaults := Default()
	if ret.Server == nil {
		ret.Server = defaults.Server
	}
	if ret.Gateway == nil {
		ret.Gateway = defaults.Gateway
	}

	return ret, diags
}

func decodeServerConfig(block *hcl.Block) (*Server, hcl.Diagnostics) {
	ret := &Server{
		ListenAddr: DefaultListenAddr,
		DeclRange:  block.DefRange,
	}

	type TLSConfigHCL struct {
		CertificateFile gohcl.WithRange[string]   `hcl:"certificate_file,optional"`
		PrivateKeyFile  gohcl.WithRange[string]   `hcl:"private_key_file,optional"`
		ACMEDomains     gohcl.WithRange[[]string] `hcl:"acme_domains,optional"`
		ACMECacheDir    gohcl.WithRange[string]   `hcl:"acme_cache_dir,optional"`
	}
	type Config struct {
		ListenAddr  gohcl.WithRange[*string] `hcl:"listen_addr,optional"`
		MetricsAddr gohcl.WithRange[*string] `hcl:"metrics_addr,optional"`
		TLS         *TLSConfigHCL            `hcl:"tls,block"`
	}
	var config Config
	diags := gohcl.DecodeBody(block.Body, nil, &config)
	if diags.HasErrors() {
		return ret, diags
	}

	if config.ListenAddr.Value != nil {
		_, _, err := net.SplitHostPort(*config.ListenAddr.Value)
		if err != nil {
			diags = diags.Append(&hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Invalid listen address",
				Detail:   "Listen address must be an IP address followed by a colon and then a port number.",
				Subject:  config.ListenAddr.Range.Ptr(),
			})
		} else {
			ret.ListenAddr = *config.ListenAddr.Value
		}
	}

	if config.MetricsAddr.Value != nil {
		_, _, err := net.SplitHostPort(*config.MetricsAddr.Value)
		if err != nil {
			diags = diags.Append(&hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Invalid metrics address",
				Detail:   "Metrics address must be an IP address followed by a colon and then a port number.",
				Subject:  config.MetricsAddr.Range.Ptr(),
			})
		} else {
			ret.MetricsAddr = *config.MetricsAddr.Value
		}
	}

	if config.TLS != nil {
		certFilename := config.TLS.CertificateFile.Value
		keyFilename := config.TLS.PrivateKeyFile.Value
		domains := config.TLS.ACMEDomains.Value

		switch {
		case len(domains) != 0 && (certFilename != "" || keyFilename != ""):
			diags = diags.Append(&hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Conflicting TLS configuration",
				Detail:   "A tls block must either set certificate_file and private_key_file, or set acme_domains, but not both.",
				Subject:  config.TLS.ACMEDomains.Range.Ptr(),
			})

		case len(domains) != 0:
			cacheDir := config.TLS.ACMECacheDir.Value
			if cacheDir != "" && !filepath.IsAbs(cacheDir) {
				cacheDir = filepath.Join(filepath.Dir(block.DefRange.Filename), cacheDir)
			}
			ret.TLS = &TLSConfig{
				ACMEDomains:  domains,
				ACMECacheDir: cacheDir,
			}

		case certFilename == "" || keyFilename == "":
			diags = diags.Append(&hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Incomplete TLS configuration",
				Detail:   "A tls block must set both certificate_file and private_key_file, unless it uses acme_domains.",
				Subject:  block.DefRange.Ptr(),
			})

		default:
			basePath := filepath.Dir(block.DefRange.Filename)
			if !filepath.IsAbs(certFilename) {
				certFilename = filepath.Join(basePath, certFilename)
			}
			if !filepath.IsAbs(keyFilename) {
				keyFilename = filepath.Join(basePath, keyFilename)
			}

			cert, err := tls.LoadX509KeyPair(certFilename, keyFilename)
			if err != nil {
				diags = diags.Append(&hcl.Diagnostic{
					Severity: hcl.DiagError,
					Summary:  "Failed to parse TLS keypair",
					Detail:   fmt.Sprintf("Cannot build a valid TLS configuration from the specified certificate and private key: %s.", err),
					Subject:  config.TLS.CertificateFile.Range.Ptr(),
				})
			} else {
				ret.TLS = &TLSConfig{
					Certificate: &cert,
				}
			}
		}
	}

	return ret, diags
}

func decodeGatewayConfig(block *hcl.Block) (*Gateway, hcl.Diagnostics) {
	defaults := Default().Gateway
	ret := &Gateway{
		URL:       defaults.URL,
		Timeout:   defaults.Timeout,
		DeclRange: block.DefRange,
	}

	type Config struct {
		URL         gohcl.WithRange[*string] `hcl:"url,optional"`
		RedirectURL gohcl.WithRange[*string] `hcl:"redirect_url,optional"`
		Timeout     gohcl.WithRange[*string] `hcl:"timeout,optional"`
	}
	var config Config
	diags := gohcl.DecodeBody(block.Body, nil, &config)
	if diags.HasErrors() {
		return ret, diags
	}

	if config.URL.Value != nil {
		u, moreDiags := decodeGatewayURL(*config.URL.Value, config.URL.Range)
		diags = append(diags, moreDiags...)
		if u != nil {
			ret.URL = u
		}
	}
	ret.RedirectURL = ret.URL
	if config.RedirectURL.Value != nil {
		u, moreDiags := decodeGatewayURL(*config.RedirectURL.Value, config.RedirectURL.Range)
		diags = append(diags, moreDiags...)
		if u != nil {
			ret.RedirectURL = u
		}
	}

	if config.Timeout.Value != nil {
		timeout, err := time.ParseDuration(*config.Timeout.Value)
		if err != nil || timeout <= 0 {
			diags = diags.Append(&hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Invalid gateway timeout",
				Detail:   "Timeout must be a positive duration, such as \"30s\" or \"2m\".",
				Subject:  config.Timeout.Range.Ptr(),
			})
		} else {
			ret.Timeout = timeout
		}
	}

	return ret, diags
}

func decodeGatewayURL(raw string, rng hcl.Range) (*url.URL, hcl.Diagnostics) {
	var diags hcl.Diagnostics
	u, err := url.Parse(raw)
	if err != nil {
		return nil, diags.Append(&hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Invalid gateway URL",
			Detail:   fmt.Sprintf("Invalid URL syntax: %s.", err),
			Subject:  rng.Ptr(),
		})
	}
	if err := ipfs.AssertValidGatewayURL(u); err != nil {
		return nil, diags.Append(&hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Invalid gateway URL",
			Detail:   fmt.Sprintf("Gateway URL %s.", err),
			Subject:  rng.Ptr(),
		})
	}
	return u, diags
}

var rootSchema = &hcl.BodySchema{
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "server"},
		{Type: "gateway"},
	},
}
