package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/sideportal/portalkit"
)

// maxSignResponseSize bounds how much of a signing service response is read.
// Success bodies are small JSON objects; error bodies are short messages.
const maxSignResponseSize = 1 * 1024 * 1024

// RemoteSignInput holds the artifacts and configuration for one remote
// signing run.
type RemoteSignInput struct {
	// PackagePath is the application package to sign.
	PackagePath string

	// KeyMaterial and Provision are the signing asset contents.
	KeyMaterial []byte
	Provision   []byte

	// Passphrase unlocks the key material; omitted from the request when
	// empty.
	Passphrase string

	// Endpoint is the signing service URL (custom endpoint when configured,
	// else the fixed default).
	Endpoint string

	// Token, when set, is sent as a bearer Authorization header.
	Token string
}

// signResponse is the signing service's success body. Only the direct
// install link is surfaced to callers; the web-redirect variant is not.
type signResponse struct {
	InstallLink       string `json:"installLink"`
	DirectInstallLink string `json:"directInstallLink"`
}

// RemoteSignPipeline submits a package plus signing assets to a remote
// signing service and returns the direct install link.
type RemoteSignPipeline struct {
	// Client is the HTTP client used for the upload. No timeout or retry is
	// imposed here: a non-responding endpoint fails the run when the
	// transport errors, and cancelling the context aborts the request.
	Client *http.Client

	// Status, when set, is reset at the start of a run and marked ready on
	// success, failed on error.
	Status *InstallStatus
}

// Run executes the remote signing pipeline: preconditions, multipart upload,
// response decode. Preconditions (all three artifacts present and non-empty)
// are checked before any network I/O. Returns the direct install link.
func (p *RemoteSignPipeline) Run(ctx context.Context, in RemoteSignInput) (link string, err error) {
	if p.Status != nil {
		p.Status.Reset()
		defer func() {
			if err != nil {
				_ = p.Status.Fail(err.Error())
			}
		}()
	}

	run, err := Begin("remotesign")
	if err != nil {
		return "", err
	}

	var (
		packageData []byte
		body        bytes.Buffer
		contentType string
	)

	stages := []Stage{
		{Name: "preflight", Run: func(ctx context.Context) error {
			data, readErr := os.ReadFile(in.PackagePath)
			if readErr != nil {
				return fmt.Errorf("%w: %s", portalkit.ErrInputNotFound, in.PackagePath)
			}
			if len(data) == 0 {
				return fmt.Errorf("package %s is empty", in.PackagePath)
			}
			if len(in.KeyMaterial) == 0 {
				return fmt.Errorf("%w: no key material content", portalkit.ErrMissingKeyMaterial)
			}
			if len(in.Provision) == 0 {
				return fmt.Errorf("%w: no provisioning profile content", portalkit.ErrMissingProvisioningProfile)
			}
			packageData = data
			return nil
		}},
		{Name: "assemble", Run: func(ctx context.Context) error {
			ct, assembleErr := assembleSigningForm(&body, in, packageData)
			if assembleErr != nil {
				return fmt.Errorf("assembling signing request: %w", assembleErr)
			}
			contentType = ct
			return nil
		}},
		{Name: "upload", Run: func(ctx context.Context) error {
			resolved, uploadErr := p.upload(ctx, in, contentType, &body)
			if uploadErr != nil {
				return uploadErr
			}
			link = resolved
			return nil
		}},
	}

	if err := run.Execute(ctx, stages); err != nil {
		return "", err
	}

	if p.Status != nil {
		_ = p.Status.SetReady()
	}
	slog.Info("package signed remotely", "package", in.PackagePath)
	return link, nil
}

// assembleSigningForm writes the multipart request body: parts ipa (original
// filename preserved), p12 and mobileprovision (fixed filenames), and the
// optional p12_password text field. The boundary is a unique per-request
// token.
func assembleSigningForm(buf *bytes.Buffer, in RemoteSignInput, packageData []byte) (string, error) {
	writer := multipart.NewWriter(buf)
	if err := writer.SetBoundary("portalkit-" + uuid.NewString()); err != nil {
		return "", err
	}

	ipa, err := writer.CreateFormFile("ipa", filepath.Base(in.PackagePath))
	if err != nil {
		return "", err
	}
	if _, err := ipa.Write(packageData); err != nil {
		return "", err
	}

	p12, err := writer.CreateFormFile("p12", "certificate.p12")
	if err != nil {
		return "", err
	}
	if _, err := p12.Write(in.KeyMaterial); err != nil {
		return "", err
	}

	provision, err := writer.CreateFormFile("mobileprovision", "profile.mobileprovision")
	if err != nil {
		return "", err
	}
	if _, err := provision.Write(in.Provision); err != nil {
		return "", err
	}

	if in.Passphrase != "" {
		if err := writer.WriteField("p12_password", in.Passphrase); err != nil {
			return "", err
		}
	}

	if err := writer.Close(); err != nil {
		return "", err
	}
	return writer.FormDataContentType(), nil
}

// upload POSTs the assembled form and decodes the response. Non-2xx status
// surfaces the raw response body text as the rejection message.
func (p *RemoteSignPipeline) upload(ctx context.Context, in RemoteSignInput, contentType string, body io.Reader) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, in.Endpoint, body)
	if err != nil {
		return "", fmt.Errorf("building signing request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	if in.Token != "" {
		req.Header.Set("Authorization", "Bearer "+in.Token)
	}

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("uploading to signing service: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxSignResponseSize))
	if err != nil {
		return "", fmt.Errorf("reading signing service response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &portalkit.ServerError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(respBody)),
		}
	}

	var decoded signResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return "", fmt.Errorf("%w: %v", portalkit.ErrResponseDecode, err)
	}
	if decoded.DirectInstallLink == "" {
		return "", fmt.Errorf("%w: response missing direct install link", portalkit.ErrResponseDecode)
	}
	return decoded.DirectInstallLink, nil
}
