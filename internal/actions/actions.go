// Package actions parses custom URL scheme requests into typed actions the
// core pipelines execute: certificate import/export and source registration.
package actions

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"github.com/sideportal/portalkit/internal/feed"
)

// Scheme is the custom URL scheme handled by this application.
const Scheme = "portalkit"

// Callback template placeholders substituted by ExpandCallback.
const (
	placeholderCert     = "$(BASE64_CERT)"
	placeholderPassword = "$(PASSWORD)"
)

// ImportCertificate carries decoded signing material from an
// import-certificate request.
type ImportCertificate struct {
	Key        []byte
	Provision  []byte
	Passphrase string
}

// ExportCertificate carries the callback URL template from an
// export-certificate request. The template contains $(BASE64_CERT) and
// $(PASSWORD) placeholders to be substituted and reopened by the caller.
type ExportCertificate struct {
	CallbackTemplate string
}

// AddSource carries the normalized feed URL from an add-source request.
type AddSource struct {
	URL string
}

// Parse decodes a custom scheme URL into one of the typed actions above.
func Parse(raw string) (any, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing action URL: %w", err)
	}
	if parsed.Scheme != Scheme {
		return nil, fmt.Errorf("unsupported URL scheme %q", parsed.Scheme)
	}

	action := parsed.Host
	query := parsed.Query()

	switch action {
	case "import-certificate":
		return parseImportCertificate(query)
	case "export-certificate":
		template := query.Get("callback_template")
		if template == "" {
			return nil, fmt.Errorf("export-certificate: missing callback_template")
		}
		if !strings.Contains(template, placeholderCert) {
			return nil, fmt.Errorf("export-certificate: callback template missing %s placeholder", placeholderCert)
		}
		return &ExportCertificate{CallbackTemplate: template}, nil
	case "source":
		target := query.Get("url")
		if target == "" {
			target = strings.TrimPrefix(parsed.Path, "/")
		}
		if target == "" {
			return nil, fmt.Errorf("source: missing url")
		}
		return &AddSource{URL: feed.NormalizeSourceURL(target)}, nil
	default:
		return nil, fmt.Errorf("unknown action %q", action)
	}
}

func parseImportCertificate(query url.Values) (*ImportCertificate, error) {
	key, err := decodeBase64Param(query, "p12")
	if err != nil {
		return nil, err
	}
	provision, err := decodeBase64Param(query, "provision")
	if err != nil {
		return nil, err
	}

	action := &ImportCertificate{Key: key, Provision: provision}
	if encoded := query.Get("password"); encoded != "" {
		pass, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("import-certificate: decoding password: %w", err)
		}
		action.Passphrase = string(pass)
	}
	return action, nil
}

func decodeBase64Param(query url.Values, name string) ([]byte, error) {
	encoded := query.Get(name)
	if encoded == "" {
		return nil, fmt.Errorf("import-certificate: missing %s", name)
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("import-certificate: decoding %s: %w", name, err)
	}
	return data, nil
}

// ExpandCallback substitutes the exported certificate bundle (base64) and
// passphrase into an export callback template. The filled URL is ready to
// be reopened by the platform opener.
func ExpandCallback(template string, bundle []byte, passphrase string) string {
	encoded := base64.StdEncoding.EncodeToString(bundle)
	out := strings.ReplaceAll(template, placeholderCert, url.QueryEscape(encoded))
	out = strings.ReplaceAll(out, placeholderPassword, url.QueryEscape(passphrase))
	return out
}
