package domain

import (
	"errors"
	"time"
)

// Tier — ценовой уровень района на конкретную дату.
type Tier string

const (
	Tier1      Tier = "tier1"
	Tier2      Tier = "tier2"
	Tier3      Tier = "tier3"
	TierGlobal Tier = "global_takeover"
)

// DefaultTier присваивается району, не попавшему ни в один набор.
const DefaultTier = Tier3

const (
	// DateLayout — формат дат брони и календаря.
	DateLayout = "2006-01-02"
	// MonthLayout — формат месяца в запросах календаря.
	MonthLayout = "2006-01"
	// StaleHoldAfter — возраст неоплаченной брони, после которого она считается брошенной.
	StaleHoldAfter = time.Hour
)

// TierAssignment — результат разрешения уровня для пары (район, дата).
type TierAssignment struct {
	Tier               Tier  `json:"tier"`
	DailyBriefCents    int64 `json:"daily_brief_cents"`
	SundayEditionCents int64 `json:"sunday_edition_cents"`
	IsGlobal           bool  `json:"is_global"`
}

// TierPrice — статические цены уровня.
type TierPrice struct {
	DailyBriefCents    int64
	SundayEditionCents int64
}

// SeasonalWindow переопределяет уровень района на повторяющийся ежегодный период.
// Если начало позже конца, окно переходит через Новый год.
type SeasonalWindow struct {
	NeighborhoodID string
	StartMonth     time.Month
	StartDay       int
	EndMonth       time.Month
	EndDay         int
	PeakTier       Tier
}

// Contains проверяет, попадает ли дата (по месяцу и дню) в окно.
func (w SeasonalWindow) Contains(date time.Time) bool {
	md := monthDay(date.Month(), date.Day())
	start := monthDay(w.StartMonth, w.StartDay)
	end := monthDay(w.EndMonth, w.EndDay)
	if start <= end {
		return md >= start && md <= end
	}
	// переход через год: [start, 31 дек] ∪ [1 янв, end]
	return md >= start || md <= end
}

func monthDay(m time.Month, d int) int {
	return int(m)*100 + d
}

// PlacementType — рекламный продукт.
type PlacementType string

const (
	PlacementDailyBrief    PlacementType = "daily_brief"
	PlacementSundayEdition PlacementType = "sunday_edition"
)

// Valid проверяет, что тип размещения известен.
func (p PlacementType) Valid() bool {
	return p == PlacementDailyBrief || p == PlacementSundayEdition
}

// PlacementFor возвращает тип размещения, который выходит в указанный день.
func PlacementFor(date time.Time) PlacementType {
	if date.Weekday() == time.Sunday {
		return PlacementSundayEdition
	}
	return PlacementDailyBrief
}

// BookingStatus — статус брони размещения.
type BookingStatus string

const (
	BookingPendingPayment BookingStatus = "pending_payment"
	BookingActive         BookingStatus = "active"
	BookingRejected       BookingStatus = "rejected"
	BookingExpired        BookingStatus = "expired"
	BookingCancelled      BookingStatus = "cancelled"
)

// Booking — бронь рекламного места. NeighborhoodID == nil означает глобальную бронь.
type Booking struct {
	ID               string
	NeighborhoodID   *string
	PlacementType    PlacementType
	StartDate        time.Time
	Status           BookingStatus
	IsGlobalTakeover bool
	CreatedAt        time.Time
}

// Holds сообщает, занимает ли бронь слот на момент now.
func (b Booking) Holds(now time.Time) bool {
	switch b.Status {
	case BookingActive:
		return true
	case BookingPendingPayment:
		return now.Sub(b.CreatedAt) < StaleHoldAfter
	default:
		return false
	}
}

// Availability — занятость дат для календаря бронирования.
type Availability struct {
	NeighborhoodID string        `json:"neighborhood_id"`
	PlacementType  PlacementType `json:"placement_type"`
	BookedDates    []string      `json:"booked_dates"`
	BlockedDates   []string      `json:"blocked_dates"`
	BookingWindow  BookingWindow `json:"booking_window"`
	HoldsReaped    int64         `json:"holds_reaped"`
}

// BookingWindow — допустимый интервал дат для новой брони.
type BookingWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// MonthRange задаёт календарный диапазон: Months месяцев начиная с From.
type MonthRange struct {
	From   time.Time
	Months int
}

var (
	// ErrSlotUnavailable возвращается, если на дату уже есть действующая бронь.
	ErrSlotUnavailable = errors.New("slot unavailable")
	// ErrOutsideBookingWindow возвращается для дат вне окна бронирования.
	ErrOutsideBookingWindow = errors.New("date outside booking window")
	// ErrInvalidPlacement возвращается для неизвестного типа размещения.
	ErrInvalidPlacement = errors.New("invalid placement type")
)
