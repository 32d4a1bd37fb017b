package portalkit

import (
	"archive/zip"
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
)

// testIdentity holds a self-signed signing certificate and its private key
// for building PKCS#12 containers and signed provisioning profiles in tests.
type testIdentity struct {
	cert *x509.Certificate
	key  *ecdsa.PrivateKey
}

// newTestIdentity generates a self-signed ECDSA certificate with the given
// subject common name and organization.
func newTestIdentity(t *testing.T, commonName, org string) *testIdentity {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			CommonName:   commonName,
			Organization: []string{org},
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
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

	return &testIdentity{cert: cert, key: key}
}

// encodeP12 packs the identity into a PKCS#12 container with the given
// passphrase.
func (id *testIdentity) encodeP12(t *testing.T, passphrase string) []byte {
	t.Helper()
	data, err := gopkcs12.Modern.Encode(id.key, id.cert, nil, passphrase)
	if err != nil {
		t.Fatalf("encoding PKCS#12: %v", err)
	}
	return data
}

// profilePayload mirrors the property-list payload of a provisioning
// profile, for building test profiles.
type profilePayload struct {
	Name                 string    `plist:"Name"`
	UUID                 string    `plist:"UUID"`
	TeamName             string    `plist:"TeamName"`
	TeamIdentifiers      []string  `plist:"TeamIdentifier"`
	AppIDName            string    `plist:"AppIDName"`
	ExpirationDate       time.Time `plist:"ExpirationDate"`
	ProvisionsAllDevices bool      `plist:"ProvisionsAllDevices,omitempty"`
	ProvisionedDevices   []string  `plist:"ProvisionedDevices,omitempty"`
}

// signProfile wraps the payload in a CMS SignedData envelope, producing a
// parseable provisioning profile.
func (id *testIdentity) signProfile(t *testing.T, payload profilePayload) []byte {
	t.Helper()

	content, err := plist.Marshal(payload, plist.XMLFormat)
	if err != nil {
		t.Fatalf("marshaling profile payload: %v", err)
	}

	sd, err := pkcs7.NewSignedData(content)
	if err != nil {
		t.Fatalf("creating signed data: %v", err)
	}
	sd.SetDigestAlgorithm(pkcs7.OIDDigestAlgorithmSHA256)
	if err := sd.AddSigner(id.cert, id.key, pkcs7.SignerInfoConfig{}); err != nil {
		t.Fatalf("signing profile: %v", err)
	}
	signed, err := sd.Finish()
	if err != nil {
		t.Fatalf("finalizing signed profile: %v", err)
	}
	return signed
}

// writeZipFixture builds a zip archive at path from the given entry map.
func writeZipFixture(t *testing.T, path string, files map[string][]byte) {
	t.Helper()

	out, err := os.Create(path)
	if err != nil {
		t.Fatalf("creating fixture archive: %v", err)
	}
	zw := zip.NewWriter(out)
	for name, data := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("adding fixture entry %s: %v", name, err)
		}
		if _, err := w.Write(data); err != nil {
			t.Fatalf("writing fixture entry %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("finalizing fixture archive: %v", err)
	}
	if err := out.Close(); err != nil {
		t.Fatalf("closing fixture archive: %v", err)
	}
}

// writeFileFixture writes data to dir/name and returns the full path.
func writeFileFixture(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("writing fixture %s: %v", name, err)
	}
	return path
}
