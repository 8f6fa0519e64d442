package utils

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
)

// CloudinaryStore keeps uploads in the "schoolfund/<kind>" folder.
type CloudinaryStore struct {
	cld *cloudinary.Cloudinary
}

func NewCloudinaryStore(cloudName, apiKey, apiSecret string) (*CloudinaryStore, error) {
	cld, err := cloudinary.NewFromParams(cloudName, apiKey, apiSecret)
	if err != nil {
		return nil, fmt.Errorf("cloudinary config error: %w", err)
	}
	return &CloudinaryStore{cld: cld}, nil
}

func (s *CloudinaryStore) Save(ctx context.Context, kind, filename string, r io.Reader) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	name := StoredName(filename, time.Now())
	uploadResp, err := s.cld.Upload.Upload(ctx, r, uploader.UploadParams{
		Folder:       "schoolfund/" + kind,
		PublicID:     strings.TrimSuffix(name, path.Ext(name)),
		ResourceType: "auto",
	})
	if err != nil {
		return "", fmt.Errorf("upload error: %w", err)
	}
	return uploadResp.SecureURL, nil
}

// Delete removes an asset given its full delivery URL.
func (s *CloudinaryStore) Delete(ctx context.Context, imageURL string) error {
	publicID, err := extractPublicID(imageURL)
	if err != nil {
		return fmt.Errorf("could not extract public ID: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if _, err := s.cld.Upload.Destroy(ctx, uploader.DestroyParams{PublicID: publicID}); err != nil {
		return fmt.Errorf("delete error: %w", err)
	}
	return nil
}

// extractPublicID turns
// https://res.cloudinary.com/demo/image/upload/v1234567890/schoolfund/evidence/abc.jpg
// into schoolfund/evidence/abc.
func extractPublicID(imageURL string) (string, error) {
	parsedURL, err := url.Parse(imageURL)
	if err != nil {
		return "", err
	}

	parts := strings.Split(strings.Trim(parsedURL.Path, "/"), "/")
	idx := -1
	for i, p := range parts {
		if p == "upload" {
			idx = i
			break
		}
	}
	if idx < 0 || idx+1 >= len(parts) {
		return "", fmt.Errorf("invalid cloudinary URL format")
	}

	rest := parts[idx+1:]
	if len(rest) > 1 && isVersion(rest[0]) {
		rest = rest[1:]
	}
	joined := path.Join(rest...)
	return strings.TrimSuffix(joined, path.Ext(joined)), nil
}

func isVersion(seg string) bool {
	if len(seg) < 2 || seg[0] != 'v' {
		return false
	}
	for _, r := range seg[1:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
