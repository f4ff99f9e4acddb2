package imagehost

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"

	"github.com/Gopher0727/PulseChat/config"
)

var ErrUpload = errors.New("image upload failed")

// Uploader stores an image given as a base64 data URI and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, dataURI string) (string, error)
}

// New returns a Cloudinary uploader, or Noop when no cloud is configured.
func New(cfg *config.ImageHostConfig) (Uploader, error) {
	if cfg.CloudName == "" {
		return Noop{}, nil
	}
	u, err := NewCloudinaryUploader(cfg.CloudName, cfg.APIKey, cfg.APISecret, cfg.Folder, time.Duration(cfg.Timeout)*time.Second)
	if err != nil {
		return nil, err
	}
	if cfg.UploadPrefix != "" {
		u.cld.Config.API.UploadPrefix = cfg.UploadPrefix
	}
	return u, nil
}

// Noop keeps the data URI as the image URL. Used in local runs.
type Noop struct{}

func (Noop) Upload(_ context.Context, dataURI string) (string, error) {
	if dataURI == "" {
		return "", fmt.Errorf("%w: empty image", ErrUpload)
	}
	return dataURI, nil
}

type CloudinaryUploader struct {
	cld     *cloudinary.Cloudinary
	folder  string
	timeout time.Duration
}

func NewCloudinaryUploader(cloudName, apiKey, apiSecret, folder string, timeout time.Duration) (*CloudinaryUploader, error) {
	cld, err := cloudinary.NewFromParams(cloudName, apiKey, apiSecret)
	if err != nil {
		return nil, fmt.Errorf("cloudinary: %w", err)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CloudinaryUploader{cld: cld, folder: folder, timeout: timeout}, nil
}

// Upload sends the data URI as a signed upload and returns secure_url.
func (u *CloudinaryUploader) Upload(ctx context.Context, dataURI string) (string, error) {
	if !strings.HasPrefix(dataURI, "data:") {
		return "", fmt.Errorf("%w: not a data URI", ErrUpload)
	}

	ctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	resp, err := u.cld.Upload.Upload(ctx, dataURI, uploader.UploadParams{Folder: u.folder})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpload, err)
	}
	// the SDK reports API-level failures in the body, not as an error
	if resp.Error.Message != "" {
		return "", fmt.Errorf("%w: %s", ErrUpload, resp.Error.Message)
	}
	if resp.SecureURL == "" {
		return "", fmt.Errorf("%w: response without secure_url", ErrUpload)
	}
	return resp.SecureURL, nil
}
