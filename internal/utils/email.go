package utils

import (
	"bytes"
	"fmt"
	"os"

	"kiloba_back_end/internal/models"

	"github.com/wneessen/go-mail"
)

// SendReceiptEmail envoie un e-mail HTML avec reçu PDF en pièce jointe
func SendReceiptEmail(to, subject, htmlBody string, pdfAttachment []byte) error {
	msg := mail.NewMsg()

	if err := msg.From("noreply@kiloba.cm"); err != nil {
		return err
	}
	if err := msg.To(to); err != nil {
		return err
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextHTML, htmlBody)

	if pdfAttachment != nil {
		msg.AttachReader("recu_kiloba.pdf", bytes.NewReader(pdfAttachment))
	}

	client, err := mail.NewClient(os.Getenv("SMTP_HOST"),
		mail.WithPort(587),
		mail.WithSMTPAuth(mail.SMTPAuthLogin),
		mail.WithUsername(os.Getenv("SMTP_USERNAME")),
		mail.WithPassword(os.Getenv("SMTP_PASSWORD")),
		mail.WithTLSPolicy(mail.TLSMandatory),
	)
	if err != nil {
		return err
	}

	return client.DialAndSend(msg)
}

// GenerateReceiptHTML génère le HTML du reçu de livraison
func GenerateReceiptHTML(order models.Order) string {
	itemsHTML := ""
	for _, item := range order.Items {
		lineTotal := item.UnitPrice * int64(item.Quantity)
		itemsHTML += fmt.Sprintf(`
			<tr>
				<td>%s</td>
				<td>%d</td>
				<td>%s %s</td>
				<td>%s %s</td>
			</tr>`, item.Name, item.Quantity,
			FormatAmount(item.UnitPrice), item.Currency,
			FormatAmount(lineTotal), item.Currency)
	}

	return fmt.Sprintf(`
<!DOCTYPE html>
<html lang="fr">
<head>
	<meta charset="UTF-8">
	<meta name="viewport" content="width=device-width, initial-scale=1.0">
	<title>Reçu de livraison</title>
</head>
<body style="font-family: Arial, sans-serif; background-color: #f9f9f9; padding: 20px;">
	<div style="max-width: 600px; margin: auto; background-color: white; padding: 20px; border-radius: 10px;">
		<h2 style="color: #333;">Livraison confirmée</h2>
		<p>Bonjour,</p>
		<p>Votre commande <strong>%s</strong> a bien été livrée et réglée.</p>

		<h3>Détails de la commande</h3>
		<table style="width: 100%%; border-collapse: collapse; margin: 20px 0;">
			<thead>
				<tr style="background-color: #f0f0f0;">
					<th style="padding: 10px; text-align: left; border: 1px solid #ddd;">Article</th>
					<th style="padding: 10px; text-align: left; border: 1px solid #ddd;">Quantité</th>
					<th style="padding: 10px; text-align: left; border: 1px solid #ddd;">Prix unitaire</th>
					<th style="padding: 10px; text-align: left; border: 1px solid #ddd;">Total</th>
				</tr>
			</thead>
			<tbody>
				%s
			</tbody>
			<tfoot>
				<tr>
					<td colspan="3" style="padding: 10px; text-align: right;">Sous-total:</td>
					<td style="padding: 10px;">%s %s</td>
				</tr>
				<tr>
					<td colspan="3" style="padding: 10px; text-align: right;">Frais de service:</td>
					<td style="padding: 10px;">%s %s</td>
				</tr>
				<tr>
					<td colspan="3" style="padding: 10px; text-align: right; font-weight: bold;">Total:</td>
					<td style="padding: 10px; font-weight: bold;">%s %s</td>
				</tr>
			</tfoot>
		</table>

		<p style="margin-top: 30px; color: #555;">
			Cordialement,<br>
			<strong>L'équipe Kiloba</strong>
		</p>
	</div>
</body>
</html>`, order.QRRef, itemsHTML,
		FormatAmount(order.Subtotal), order.Currency,
		FormatAmount(order.PlatformFee), order.Currency,
		FormatAmount(order.Total), order.Currency)
}

// FormatAmount rend un montant en centimes lisible (ex: 10100 → "101.00")
func FormatAmount(centimes int64) string {
	return fmt.Sprintf("%d.%02d", centimes/100, centimes%100)
}
