package events

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// Notification — message poussé vers le topic de notifications, consommé par
// le service push/SMS en aval
type Notification struct {
	UserID    string            `json:"user_id"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Kind      string            `json:"kind"`
	Data      map[string]string `json:"data,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Producer publie les notifications métier sur Kafka. Best-effort : un broker
// injoignable se traduit par un log, jamais par un échec de l'opération
// appelante.
type Producer struct {
	writer *kafka.Writer
}

func NewProducer() *Producer {
	brokers := os.Getenv("KAFKA_BROKERS")
	if brokers == "" {
		brokers = "localhost:9092"
	}
	topic := os.Getenv("KAFKA_NOTIFICATIONS_TOPIC")
	if topic == "" {
		topic = "kiloba.notifications"
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(strings.Split(brokers, ",")...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		BatchTimeout: 50 * time.Millisecond,
	}
	log.Printf("✅ Producteur Kafka prêt (brokers %s, topic %s)", brokers, topic)
	return &Producer{writer: w}
}

// Notify implémente la surface attendue par le ledger de commandes.
// La clé de partition est l'utilisateur : ses notifications restent ordonnées.
func (p *Producer) Notify(ctx context.Context, userID, title, message, kind string, data map[string]string) {
	n := Notification{
		UserID:    userID,
		Title:     title,
		Message:   message,
		Kind:      kind,
		Data:      data,
		CreatedAt: time.Now(),
	}
	payload, err := json.Marshal(n)
	if err != nil {
		log.Printf("❌ Sérialisation notification impossible: %v", err)
		return
	}

	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := p.writer.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(userID),
		Value: payload,
	}); err != nil {
		log.Printf("⚠️ Notification %s non publiée pour %s: %v", kind, userID, err)
		return
	}
	log.Printf("📨 Notification %s publiée pour %s", kind, userID)
}

// Close vide les buffers et ferme la connexion au broker
func (p *Producer) Close() error {
	return p.writer.Close()
}
