package services

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image/png"

	"github.com/skip2/go-qrcode"
)

const checkoutQRSize = 256

// RenderCheckoutQR encodes a checkout URL as a base64 PNG so desktop users can
// finish payment from the mobile wallet app.
func RenderCheckoutQR(checkoutURL string) (string, error) {
	if checkoutURL == "" {
		return "", fmt.Errorf("checkout URL is empty")
	}

	qr, err := qrcode.New(checkoutURL, qrcode.Medium)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(checkoutQRSize)); err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
