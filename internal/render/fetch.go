package render

import (
	"bytes"
	"context"
	"image"
	"image/draw"
	"image/png"
	"io"
	"net/http"
	"strings"
	"time"

	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder

	"github.com/jmgilman/go/errors"
)

const (
	maxImageBytes  = 10 << 20
	maxImagePixels = 40_000_000
)

var errNoImages = errors.New(errors.CodeForbidden, "image loading is disabled")

type imageKind int

const (
	imageRaster imageKind = iota
	imageSVG
)

// remoteImage is a downloaded image ready for layout. Raster images are
// normalized to 8-bit PNG.
type remoteImage struct {
	kind   imageKind
	data   []byte
	width  int
	height int
}

// imageSource loads images referenced by a page.
type imageSource interface {
	fetch(ctx context.Context, src string) (*remoteImage, error)
}

// httpImages downloads images from the allowlisted host.
type httpImages struct {
	client  *http.Client
	allow   *Allowlist
	timeout time.Duration
}

// maxImageRedirects bounds the redirect chain of one image fetch.
const maxImageRedirects = 5

// newHTTPImages copies client so every redirect hop is held to the allowlist
// without changing the caller's client.
func newHTTPImages(allow *Allowlist, client *http.Client, timeout time.Duration) *httpImages {
	var c http.Client
	if client != nil {
		c = *client
	}
	next := c.CheckRedirect
	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if _, ok := allow.Resolve(req.URL.String()); !ok {
			return errors.Newf(errors.CodeForbidden, "image redirect to %q is not on the allowed host", req.URL.Redacted())
		}
		if len(via) >= maxImageRedirects {
			return errors.Newf(errors.CodeNetwork, "image fetch stopped after %d redirects", len(via))
		}
		if next != nil {
			return next(req, via)
		}
		return nil
	}
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &httpImages{client: &c, allow: allow, timeout: timeout}
}

func (h *httpImages) fetch(ctx context.Context, src string) (*remoteImage, error) {
	u, ok := h.allow.Resolve(src)
	if !ok {
		return nil, errors.Newf(errors.CodeForbidden, "image %q is not on the allowed host", src)
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidInput, "build image request")
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeNetwork, "fetch image")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf(errors.CodeNetwork, "fetch image: unexpected status %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeNetwork, "read image")
	}
	if len(data) > maxImageBytes {
		return nil, errors.Newf(errors.CodeInvalidInput, "image larger than %d bytes", maxImageBytes)
	}

	if isSVG(resp.Header.Get("Content-Type"), data) {
		return &remoteImage{kind: imageSVG, data: data}, nil
	}
	return normalizeRaster(data)
}

func isSVG(contentType string, data []byte) bool {
	if strings.HasPrefix(contentType, "image/svg+xml") {
		return true
	}
	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	return bytes.Contains(head, []byte("<svg"))
}

// normalizeRaster decodes a PNG, JPEG or GIF and re-encodes it as an 8-bit
// non-interlaced PNG.
func normalizeRaster(data []byte) (*remoteImage, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidInput, "decode image header")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width*cfg.Height > maxImagePixels {
		return nil, errors.Newf(errors.CodeInvalidInput, "image dimensions %dx%d out of range", cfg.Width, cfg.Height)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidInput, "decode image")
	}
	b := img.Bounds()
	rgba := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)

	var buf bytes.Buffer
	if err := png.Encode(&buf, rgba); err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "encode image")
	}
	return &remoteImage{kind: imageRaster, data: buf.Bytes(), width: b.Dx(), height: b.Dy()}, nil
}
