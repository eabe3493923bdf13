package domain

import (
	"context"
	"time"
)

// SubscriberDirectory отдаёт два непересекающихся пула подписчиков.
type SubscriberDirectory interface {
	ListRegisteredSubscribers(ctx context.Context) ([]Subscriber, error)
	ListAnonymousSubscribers(ctx context.Context) ([]Subscriber, error)
}

// ContentStore возвращает сгенерированный контент районов.
type ContentStore interface {
	// LatestDigestFor возвращает самый свежий дайджест района не старше withinHours
	// или nil, если его нет.
	LatestDigestFor(ctx context.Context, neighborhoodID string, withinHours int) (*DigestSource, error)
}

// BookingRepo читает и чистит брони рекламных мест.
type BookingRepo interface {
	// BookingsFor возвращает брони района (nil — только глобальные) за диапазон дат включительно.
	BookingsFor(ctx context.Context, neighborhoodID *string, placement PlacementType, from, to time.Time) ([]Booking, error)
	// GlobalTakeoverOn сообщает, есть ли на дату действующая глобальная бронь любого типа.
	GlobalTakeoverOn(ctx context.Context, date time.Time, now time.Time) (bool, error)
	// DeleteStaleHolds удаляет неоплаченные брони, созданные раньше olderThan.
	DeleteStaleHolds(ctx context.Context, olderThan time.Time) (int64, error)
}

// SeasonRepo отдаёт сезонные окна цен.
type SeasonRepo interface {
	ListSeasonalWindows(ctx context.Context) ([]SeasonalWindow, error)
}

// AdScope — область поиска креативов: район или глобальная бронь.
type AdScope struct {
	NeighborhoodID string
	Global         bool
}

// AdStore ищет креативы оплаченных броней.
type AdStore interface {
	ActiveCreatives(ctx context.Context, scope AdScope, date time.Time) ([]Ad, error)
}

// WeatherService возвращает текущую погоду или nil, если данных нет.
type WeatherService interface {
	FetchWeather(ctx context.Context, lat, lon float64, timezone, country string) (*Weather, error)
}

// Transport отправляет готовое письмо.
type Transport interface {
	Send(ctx context.Context, email, subject, html string) (bool, error)
}

// AuditSink хранит журнал запусков.
type AuditSink interface {
	Append(ctx context.Context, record ExecutionRecord) error
	ListExecutions(ctx context.Context, jobName string, from, to time.Time) ([]ExecutionRecord, error)
}

// EventPublisher публикует события о запусках для внешних потребителей.
type EventPublisher interface {
	Publish(ctx context.Context, event RunEvent) error
}

// OperatorAlerter уведомляет дежурных о неуспешных запусках.
type OperatorAlerter interface {
	Alert(ctx context.Context, text string) error
}
