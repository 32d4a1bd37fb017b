package portalkit

import (
	"crypto/x509"
	"fmt"
	"time"

	"github.com/smallstep/pkcs7"
	"howett.net/plist"
	gopkcs12 "software.sslmate.com/src/go-pkcs12"
)

// KeyMaterialInfo summarizes a decoded PKCS#12 signing identity.
type KeyMaterialInfo struct {
	// CommonName is the subject common name of the signing certificate,
	// used as a default nickname for imported assets.
	CommonName string

	// TeamName is the organization name on the certificate, when present.
	TeamName string

	// NotAfter is the certificate expiry.
	NotAfter time.Time

	// Certificate is the decoded signing certificate.
	Certificate *x509.Certificate
}

// DecodeKeyMaterial decodes PKCS#12 key material with the given passphrase
// and returns a summary of the signing identity. A wrong passphrase or
// corrupt container surfaces as a decode error.
func DecodeKeyMaterial(p12 []byte, passphrase string) (*KeyMaterialInfo, error) {
	_, leaf, _, err := gopkcs12.DecodeChain(p12, passphrase)
	if err != nil {
		return nil, fmt.Errorf("decoding key material: %w", err)
	}
	if leaf == nil {
		return nil, fmt.Errorf("key material contains no signing certificate")
	}

	info := &KeyMaterialInfo{
		CommonName:  leaf.Subject.CommonName,
		NotAfter:    leaf.NotAfter,
		Certificate: leaf,
	}
	if len(leaf.Subject.Organization) > 0 {
		info.TeamName = leaf.Subject.Organization[0]
	}
	return info, nil
}

// ProvisioningProfile holds the fields of interest from a provisioning
// profile's property-list payload.
type ProvisioningProfile struct {
	Name                 string         `plist:"Name"`
	UUID                 string         `plist:"UUID"`
	TeamName             string         `plist:"TeamName"`
	TeamIdentifiers      []string       `plist:"TeamIdentifier"`
	AppIDName            string         `plist:"AppIDName"`
	ExpirationDate       time.Time      `plist:"ExpirationDate"`
	ProvisionsAllDevices bool           `plist:"ProvisionsAllDevices"`
	ProvisionedDevices   []string       `plist:"ProvisionedDevices"`
	Entitlements         map[string]any `plist:"Entitlements"`
}

// ParseProvisioningProfile parses a provisioning profile: a CMS/PKCS#7
// SignedData envelope whose content is a property list. The envelope
// signature is not verified here; profiles are validated by the platform at
// install time.
func ParseProvisioningProfile(data []byte) (*ProvisioningProfile, error) {
	p7, err := pkcs7.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing provisioning profile envelope: %w", err)
	}
	if len(p7.Content) == 0 {
		return nil, fmt.Errorf("provisioning profile envelope has no content")
	}

	var profile ProvisioningProfile
	if _, err := plist.Unmarshal(p7.Content, &profile); err != nil {
		return nil, fmt.Errorf("parsing provisioning profile payload: %w", err)
	}
	return &profile, nil
}

// RequiresIdentifierRandomization reports whether installing with this
// profile is known to trigger platform anti-abuse checks, in which case the
// bundle identifier must be randomized before signing. Enterprise
// distribution profiles (provisioning all devices, not a fixed device list)
// are the known trigger.
func (p *ProvisioningProfile) RequiresIdentifierRandomization() bool {
	return p.ProvisionsAllDevices && len(p.ProvisionedDevices) == 0
}
