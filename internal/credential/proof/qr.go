package proof

import (
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

// DefaultQRSize is the default PNG edge length in pixels.
const DefaultQRSize = 256

// RenderQR renders proof text as a PNG QR code.
func RenderQR(text string, size int) ([]byte, error) {
	if text == "" {
		return nil, fmt.Errorf("render qr: empty payload")
	}
	if size <= 0 {
		size = DefaultQRSize
	}
	png, err := qrcode.Encode(text, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("render qr: %w", err)
	}
	return png, nil
}
