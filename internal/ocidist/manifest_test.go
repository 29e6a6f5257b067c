package ocidist

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/opencontainers/go-digest"
	specs "github.com/opencontainers/image-spec/specs-go"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"
)

const testPointerDoc = `{
	"mediaType": "application/vnd.ocipfs.layer.v1+json",
	"layer": {
		"mediaType": "application/vnd.oci.image.layer.v1.tar+gzip",
		"digest": "sha256:aaaa",
		"size": 10,
		"annotations": {
			"io.ocipfs.layer.ipfs.cid": "Qm123",
			"io.ocipfs.layer.fs.digest": "sha256:bbbb",
			"org.example.extra": "kept"
		}
	}
}`

func TestParseLayerManifest(t *testing.T) {
	got, err := ParseLayerManifest([]byte(testPointerDoc))
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	want := &LayerManifest{
		MediaType: "application/vnd.ocipfs.layer.v1+json",
		Layer: v1.Descriptor{
			MediaType: "application/vnd.oci.image.layer.v1.tar+gzip",
			Digest:    "sha256:aaaa",
			Size:      10,
			Annotations: map[string]string{
				AnnotationLayerCID:      "Qm123",
				AnnotationLayerFSDigest: "sha256:bbbb",
				"org.example.extra":     "kept",
			},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("wrong result\n%s", diff)
	}

	cid, err := got.LayerCID()
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if cid != "Qm123" {
		t.Errorf("wrong layer CID %q", cid)
	}
}

func TestParseLayerManifestInvalid(t *testing.T) {
	tests := map[string]string{
		"not json":       `<html>gateway error</html>`,
		"wrong type":     `{"mediaType": 5}`,
		"no layer":       `{"mediaType": "x"}`,
		"negative size":  `{"layer": {"digest": "sha256:aaaa", "size": -1}}`,
		"trailing data":  `{"layer": {"digest": "sha256:aaaa"}} {}`,
		"bad annotation": `{"layer": {"digest": "sha256:aaaa", "annotations": {"a": 1}}}`,
	}
	for name, src := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseLayerManifest([]byte(src))
			if err == nil {
				t.Fatal("unexpected success")
			}
		})
	}
}

func TestDeriveConfig(t *testing.T) {
	lm, err := ParseLayerManifest([]byte(testPointerDoc))
	if err != nil {
		t.Fatal(err)
	}
	got, err := DeriveConfig(lm)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	want := &ImageConfig{
		Architecture: "amd64",
		OS:           "linux",
		RootFS: v1.RootFS{
			Type:    "layers",
			DiffIDs: []digest.Digest{"sha256:bbbb"},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("wrong result\n%s", diff)
	}
}

func TestMissingAnnotations(t *testing.T) {
	for _, annotations := range []map[string]string{
		nil,
		{AnnotationLayerCID: "Qm123"},
		{AnnotationLayerCID: "Qm123", AnnotationLayerFSDigest: ""},
	} {
		lm := &LayerManifest{Layer: v1.Descriptor{Digest: "sha256:aaaa", Annotations: annotations}}
		_, err := DeriveConfig(lm)
		if !errors.Is(err, ErrMissingTarDigest) {
			t.Errorf("wrong error for %#v: %v", annotations, err)
		}
		var manifestErr ManifestError
		if !errors.As(err, &manifestErr) {
			t.Errorf("error for %#v is not a ManifestError", annotations)
		}
	}

	lm := &LayerManifest{Layer: v1.Descriptor{Digest: "sha256:aaaa", Annotations: map[string]string{
		AnnotationLayerFSDigest: "sha256:bbbb",
	}}}
	_, err := lm.LayerCID()
	if !errors.Is(err, ErrMissingCID) {
		t.Errorf("wrong error: %v", err)
	}
}

func TestLayerCIDInvalid(t *testing.T) {
	for _, cid := range []string{
		"..",
		"../ipns/evil.example/payload",
		"Qm123/../../ipns/evil.example",
		"Qm123/./x",
		"Qm123//x",
		"/Qm123",
		"Qm123/",
	} {
		t.Run(cid, func(t *testing.T) {
			lm := &LayerManifest{Layer: v1.Descriptor{Digest: "sha256:aaaa", Annotations: map[string]string{
				AnnotationLayerCID: cid,
			}}}
			_, err := lm.LayerCID()
			if !errors.Is(err, ErrInvalidCID) {
				t.Errorf("wrong error: %v", err)
			}
			var manifestErr ManifestError
			if !errors.As(err, &manifestErr) {
				t.Errorf("error is not a ManifestError")
			}
		})
	}

	lm := &LayerManifest{Layer: v1.Descriptor{Digest: "sha256:aaaa", Annotations: map[string]string{
		AnnotationLayerCID: "bafy/sub dir/file..tar",
	}}}
	if _, err := lm.LayerCID(); err != nil {
		t.Errorf("unexpected error for multi-segment CID: %s", err)
	}
}

func TestParseLayerManifestHugeSize(t *testing.T) {
	// Descriptor sizes are int64, so sizes from 2^63 upwards can't be
	// represented and the document is rejected.
	_, err := ParseLayerManifest([]byte(`{"layer": {"digest": "sha256:aaaa", "size": 18446744073709551615}}`))
	if err == nil {
		t.Fatal("unexpected success")
	}
}

func TestNewImageManifest(t *testing.T) {
	lm, err := ParseLayerManifest([]byte(testPointerDoc))
	if err != nil {
		t.Fatal(err)
	}
	cfgDigest := Digest{Digest: "sha256:cccc", Size: 91}

	got := NewImageManifest(lm, cfgDigest)
	want := &v1.Manifest{
		Versioned: specs.Versioned{SchemaVersion: 2},
		MediaType: "application/vnd.oci.image.manifest.v1+json",
		Config: v1.Descriptor{
			MediaType: "application/vnd.oci.image.config.v1+json",
			Digest:    "sha256:cccc",
			Size:      91,
		},
		Layers: []v1.Descriptor{lm.Layer},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("wrong result\n%s", diff)
	}
}
