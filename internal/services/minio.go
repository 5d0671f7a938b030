package services

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os"
	"time"

	"kiloba_back_end/internal/database"
	"kiloba_back_end/internal/qrtoken"

	"github.com/minio/minio-go/v7"
)

// UploadQRCode archive l'image QR d'une commande dans le bucket MinIO et
// retourne son URL signée (le token ne doit jamais être servi en clair
// depuis un bucket public).
func UploadQRCode(orderID, tokenValue string) (string, error) {
	if database.MinIO == nil {
		return "", fmt.Errorf("MinIO non initialisé")
	}

	png, err := qrtoken.EncodePNG(tokenValue)
	if err != nil {
		return "", fmt.Errorf("génération QR: %v", err)
	}

	bucket := os.Getenv("MINIO_BUCKET")
	objectName := fmt.Sprintf("qr/%s.png", orderID)

	_, err = database.MinIO.PutObject(context.Background(), bucket, objectName,
		bytes.NewReader(png), int64(len(png)),
		minio.PutObjectOptions{ContentType: "image/png"})
	if err != nil {
		return "", fmt.Errorf("upload QR: %v", err)
	}

	return SignedURL(bucket, objectName, 24*time.Hour)
}

// SignedURL retourne une URL pré-signée à durée de vie limitée
func SignedURL(bucket, objectName string, expiry time.Duration) (string, error) {
	if database.MinIO == nil {
		return "", fmt.Errorf("MinIO non initialisé")
	}

	reqParams := make(url.Values)
	presigned, err := database.MinIO.PresignedGetObject(context.Background(), bucket, objectName, expiry, reqParams)
	if err != nil {
		return "", fmt.Errorf("URL signée: %v", err)
	}
	return presigned.String(), nil
}

// DeleteQRCode supprime l'image QR archivée (commande terminée ou annulée)
func DeleteQRCode(orderID string) error {
	if database.MinIO == nil {
		return fmt.Errorf("MinIO non initialisé")
	}
	bucket := os.Getenv("MINIO_BUCKET")
	objectName := fmt.Sprintf("qr/%s.png", orderID)
	return database.MinIO.RemoveObject(context.Background(), bucket, objectName, minio.RemoveObjectOptions{})
}
