package metadata

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"net/http"

	"github.com/h2non/filetype"
	"github.com/nfnt/resize"
	_ "golang.org/x/image/webp"

	"github.com/tunevault/tunevault-go/internal/network"
)

const maxArtworkBytes = 10 << 20

// Artwork is an image ready to be embedded as front cover.
type Artwork struct {
	Data []byte
	MIME string
}

// FetchArtwork downloads a cover image and scales it so its longest side is
// at most size pixels. Images that cannot be decoded are returned unchanged
// when they are a format tags can carry.
func FetchArtwork(ctx context.Context, client *http.Client, url string, size int) (*Artwork, error) {
	if url == "" {
		return nil, fmt.Errorf("artwork URL cannot be empty")
	}
	if client == nil {
		client = network.GetDefaultClient()
	}

	data, err := network.FetchBytes(ctx, client, url, maxArtworkBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to download artwork: %w", err)
	}
	return PrepareArtwork(data, size)
}

// PrepareArtwork normalizes raw image bytes to a JPEG cover. Oversized
// images are downscaled with Lanczos resampling; WebP thumbnails are
// re-encoded since most players cannot show them.
func PrepareArtwork(data []byte, size int) (*Artwork, error) {
	kind, err := filetype.Match(data)
	if err != nil || !filetype.IsImage(data) {
		return nil, fmt.Errorf("artwork is not an image")
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		if kind.MIME.Value == "image/jpeg" || kind.MIME.Value == "image/png" {
			return &Artwork{Data: data, MIME: kind.MIME.Value}, nil
		}
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	needsResize := size > 0 && (width > size || height > size)

	if !needsResize && kind.MIME.Value == "image/jpeg" {
		return &Artwork{Data: data, MIME: "image/jpeg"}, nil
	}

	if needsResize {
		if width > height {
			img = resize.Resize(uint(size), 0, img, resize.Lanczos3)
		} else {
			img = resize.Resize(0, uint(size), img, resize.Lanczos3)
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 92}); err != nil {
		return nil, fmt.Errorf("failed to encode artwork: %w", err)
	}
	return &Artwork{Data: buf.Bytes(), MIME: "image/jpeg"}, nil
}
