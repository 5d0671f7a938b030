package utils

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"os"
	"time"

	"kiloba_back_end/internal/models"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/skip2/go-qrcode"
)

// GenerateRefQR encode la référence de remise en QR base64 prêt pour <img src="...">
// (c'est la référence opaque qui figure sur le reçu, jamais le jeton)
func GenerateRefQR(ref string) (string, error) {
	png, err := qrcode.Encode(ref, qrcode.Medium, 256)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

// GenerateReceiptPDF charge la page reçu du front et l'imprime en PDF
func GenerateReceiptPDF(order models.Order) ([]byte, error) {
	qrBase64, err := GenerateRefQR(order.QRRef)
	if err != nil {
		return nil, fmt.Errorf("erreur génération QR: %v", err)
	}

	q := url.Values{}
	q.Set("id", order.ID.String())
	q.Set("qr", qrBase64)
	fullURL := fmt.Sprintf("%s?%s", getFrontendReceiptBaseURL(), q.Encode())

	ctx, cancel := chromedp.NewContext(context.Background())
	defer cancel()

	ctx, cancel = context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var pdfBuf []byte
	err = chromedp.Run(ctx,
		chromedp.Navigate(fullURL),
		chromedp.WaitVisible("body", chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			buf, _, err := page.PrintToPDF().WithPrintBackground(true).Do(ctx)
			if err != nil {
				return err
			}
			pdfBuf = buf
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	return pdfBuf, nil
}

// getFrontendReceiptBaseURL récupère l'URL de la page reçu du front
func getFrontendReceiptBaseURL() string {
	u := os.Getenv("FRONTEND_RECEIPT_URL")
	if u == "" {
		// fallback local dev
		return "http://localhost:3000/receipt"
	}
	return u
}
