package pipeline

import (
	"archive/zip"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/smallstep/pkcs7"
	"howett.net/plist"
	gopkcs12 "software.sslmate.com/src/go-pkcs12"

	"github.com/sideportal/portalkit/internal/store"
)

// buildIPA writes a minimal application package: a zip holding
// Payload/<appName>.app/Info.plist plus a placeholder binary.
func buildIPA(t *testing.T, path, bundleID, appName, version string) {
	t.Helper()

	manifest, err := plist.Marshal(map[string]string{
		"CFBundleIdentifier":         bundleID,
		"CFBundleName":               appName,
		"CFBundleShortVersionString": version,
	}, plist.XMLFormat)
	if err != nil {
		t.Fatalf("marshaling manifest: %v", err)
	}

	out, err := os.Create(path)
	if err != nil {
		t.Fatalf("creating package fixture: %v", err)
	}
	zw := zip.NewWriter(out)
	entries := map[string][]byte{
		"Payload/" + appName + ".app/Info.plist": manifest,
		"Payload/" + appName + ".app/" + appName: []byte("binary"),
	}
	for name, data := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("adding package entry %s: %v", name, err)
		}
		if _, err := w.Write(data); err != nil {
			t.Fatalf("writing package entry %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("finalizing package fixture: %v", err)
	}
	if err := out.Close(); err != nil {
		t.Fatalf("closing package fixture: %v", err)
	}
}

// newSigningFixtures generates a PKCS#12 container and a signed provisioning
// profile suitable for the certificate import pipeline.
func newSigningFixtures(t *testing.T, passphrase string, enterprise bool) (p12, provision []byte) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			CommonName:   "Fixture Signing",
			Organization: []string{"Fixture Corp"},
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("creating certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parsing certificate: %v", err)
	}

	p12, err = gopkcs12.Modern.Encode(key, cert, nil, passphrase)
	if err != nil {
		t.Fatalf("encoding PKCS#12: %v", err)
	}

	payload := map[string]any{
		"Name":     "Fixture Profile",
		"UUID":     "fixture-uuid",
		"TeamName": "Fixture Corp",
	}
	if enterprise {
		payload["ProvisionsAllDevices"] = true
	} else {
		payload["ProvisionedDevices"] = []string{"udid-1"}
	}
	content, err := plist.Marshal(payload, plist.XMLFormat)
	if err != nil {
		t.Fatalf("marshaling profile payload: %v", err)
	}
	sd, err := pkcs7.NewSignedData(content)
	if err != nil {
		t.Fatalf("creating signed data: %v", err)
	}
	sd.SetDigestAlgorithm(pkcs7.OIDDigestAlgorithmSHA256)
	if err := sd.AddSigner(cert, key, pkcs7.SignerInfoConfig{}); err != nil {
		t.Fatalf("signing profile: %v", err)
	}
	provision, err = sd.Finish()
	if err != nil {
		t.Fatalf("finalizing signed profile: %v", err)
	}
	return p12, provision
}

// fakeLibrary is an in-memory AppLibrary.
type fakeLibrary struct {
	records []store.AppRecord
	addErr  error
}

func (f *fakeLibrary) AddRecord(ctx context.Context, rec store.AppRecord) error {
	if f.addErr != nil {
		return f.addErr
	}
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeLibrary) Exists(ctx context.Context, identifier string) (bool, error) {
	for _, rec := range f.records {
		if rec.Identifier == identifier {
			return true, nil
		}
	}
	return false, nil
}

// fakeRegistry is an in-memory CertRegistry.
type fakeRegistry struct {
	assets      []*store.CertificateAsset
	passphrases []string
	addErr      error
}

func (f *fakeRegistry) AddCertificate(ctx context.Context, asset *store.CertificateAsset, passphrase string) error {
	if f.addErr != nil {
		return f.addErr
	}
	f.assets = append(f.assets, asset)
	f.passphrases = append(f.passphrases, passphrase)
	return nil
}

// fakeSettings records enabled flags.
type fakeSettings struct {
	enabled []string
}

func (f *fakeSettings) Enable(ctx context.Context, flag string) error {
	f.enabled = append(f.enabled, flag)
	return nil
}

// writeAppBundle materializes a plain directory tree shaped like an
// extracted library entry: dir/<appName>.app with a manifest and binary.
func writeAppBundle(t *testing.T, dir, appName string) string {
	t.Helper()
	appDir := filepath.Join(dir, appName+".app")
	if err := os.MkdirAll(appDir, 0o755); err != nil {
		t.Fatalf("creating app bundle: %v", err)
	}
	for name, data := range map[string][]byte{
		"Info.plist": []byte("placeholder manifest"),
		appName:      []byte("unsigned binary"),
	} {
		if err := os.WriteFile(filepath.Join(appDir, name), data, 0o644); err != nil {
			t.Fatalf("writing app bundle file %s: %v", name, err)
		}
	}
	return appDir
}
