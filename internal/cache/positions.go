package cache

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"kiloba_back_end/internal/models"
)

// Les positions des livreurs vivent uniquement dans Redis : dernière écriture
// gagne, expiration courte. Une position absente signifie livreur hors ligne.

// PositionMaxAge — fenêtre de fraîcheur des positions pour le matching.
// 15 minutes par défaut, POSITION_MAX_AGE_MIN pour l'ajuster.
func PositionMaxAge() time.Duration {
	if v, err := strconv.Atoi(os.Getenv("POSITION_MAX_AGE_MIN")); err == nil && v > 0 {
		return time.Duration(v) * time.Minute
	}
	return 15 * time.Minute
}

// PositionTTL — durée de vie Redis d'une position : la fenêtre de matching
// plus une marge, pour qu'une position encore fraîche ne disparaisse jamais
// avant d'être écartée par la fenêtre
func PositionTTL() time.Duration {
	return PositionMaxAge() + time.Minute
}

// StorePosition enregistre la dernière position connue d'un livreur
func StorePosition(userID, role string, report models.PositionReport) error {
	report.UserID = userID
	if report.Timestamp.IsZero() {
		report.Timestamp = time.Now()
	}

	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("sérialisation position: %v", err)
	}

	key := fmt.Sprintf("position:%s:%s", role, userID)
	return RedisClient.Set(ctx, key, data, PositionTTL()).Err()
}

// GetPosition récupère la dernière position d'un livreur (nil si hors ligne)
func GetPosition(userID, role string) (*models.PositionReport, error) {
	key := fmt.Sprintf("position:%s:%s", role, userID)
	data, err := RedisClient.Get(ctx, key).Result()
	if err != nil {
		return nil, nil
	}

	var report models.PositionReport
	if err := json.Unmarshal([]byte(data), &report); err != nil {
		return nil, fmt.Errorf("désérialisation position: %v", err)
	}
	return &report, nil
}

// ListPositionsByRole retourne toutes les positions fraîches pour un rôle
func ListPositionsByRole(role string) ([]models.PositionReport, error) {
	pattern := fmt.Sprintf("position:%s:*", role)
	keys, err := RedisClient.Keys(ctx, pattern).Result()
	if err != nil {
		return nil, err
	}

	reports := make([]models.PositionReport, 0, len(keys))
	for _, key := range keys {
		data, err := RedisClient.Get(ctx, key).Result()
		if err != nil {
			continue // expirée entre le KEYS et le GET
		}
		var report models.PositionReport
		if err := json.Unmarshal([]byte(data), &report); err != nil {
			log.Printf("⚠️ Position corrompue dans %s, on ignore", key)
			continue
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// DeletePosition retire un livreur de la carte (passage hors ligne explicite)
func DeletePosition(userID, role string) error {
	key := fmt.Sprintf("position:%s:%s", role, userID)
	return RedisClient.Del(ctx, key).Err()
}
