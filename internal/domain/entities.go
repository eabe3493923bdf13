package domain

import (
	"strings"
	"time"
)

// RecipientSource описывает пул подписчиков, из которого пришёл получатель.
type RecipientSource string

const (
	// SourceRegistered — зарегистрированный пользователь платформы.
	SourceRegistered RecipientSource = "registered"
	// SourceAnonymous — подписчик рассылки без аккаунта.
	SourceAnonymous RecipientSource = "anonymous"
)

// Subscriber — строка каталога подписчиков в том виде, в каком её отдаёт хранилище.
type Subscriber struct {
	ID               string
	Email            string
	Timezone         string
	SubscriptionIDs  []string
	PausedTopics     []string
	UnsubscribeToken string
}

// Recipient — нормализованный получатель дайджеста на один запуск.
type Recipient struct {
	ID                        string
	Email                     string
	Source                    RecipientSource
	Timezone                  string
	PrimaryNeighborhoodID     string
	SubscribedNeighborhoodIDs []string
	UnsubscribeToken          string
	PausedTopics              map[string]struct{}
}

// HasPausedTopic сообщает, поставил ли получатель тему на паузу.
func (r Recipient) HasPausedTopic(topic string) bool {
	if len(r.PausedTopics) == 0 {
		return false
	}
	_, ok := r.PausedTopics[NormalizeTopic(topic)]
	return ok
}

// Story — одна новость внутри секции района.
type Story struct {
	ID       string   `json:"id"`
	Headline string   `json:"headline"`
	Summary  string   `json:"summary"`
	URL      string   `json:"url"`
	Topics   []string `json:"topics,omitempty"`
}

// DigestSource — последний сгенерированный дайджест района из хранилища контента.
type DigestSource struct {
	NeighborhoodID   string
	NeighborhoodName string
	City             string
	Country          string
	Timezone         string
	Latitude         float64
	Longitude        float64
	Stories          []Story
	PublishedAt      time.Time
}

// Weather — текущая погода для основной секции.
type Weather struct {
	TemperatureC float64 `json:"temperature_c"`
	TemperatureF float64 `json:"temperature_f"`
	Description  string  `json:"description"`
}

// Section — блок дайджеста по одному району.
type Section struct {
	NeighborhoodID   string   `json:"neighborhood_id"`
	NeighborhoodName string   `json:"neighborhood_name"`
	Stories          []Story  `json:"stories"`
	Weather          *Weather `json:"weather,omitempty"`
}

// AdSlot — место рекламного блока в письме.
type AdSlot string

const (
	AdSlotHeader AdSlot = "header"
	AdSlotNative AdSlot = "native"
)

// Ad — оплаченный креатив, который попадает в письмо.
type Ad struct {
	BookingID string `json:"booking_id"`
	Slot      AdSlot `json:"slot"`
	Sponsor   string `json:"sponsor"`
	Headline  string `json:"headline"`
	Body      string `json:"body"`
	ImageURL  string `json:"image_url,omitempty"`
	ClickURL  string `json:"click_url"`
}

// DigestContent — собранный дайджест одного получателя.
type DigestContent struct {
	Primary    *Section  `json:"primary"`
	Satellites []Section `json:"satellites"`
	HeaderAd   *Ad       `json:"header_ad,omitempty"`
	NativeAd   *Ad       `json:"native_ad,omitempty"`
}

// IsEmpty сообщает, что в дайджесте нет ни одной секции.
func (d DigestContent) IsEmpty() bool {
	return d.Primary == nil && len(d.Satellites) == 0
}

// NormalizeTopic приводит тему к виду для сравнения.
func NormalizeTopic(topic string) string {
	return strings.ToLower(strings.TrimSpace(topic))
}

// NormalizeEmail приводит адрес к виду для дедупликации.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
