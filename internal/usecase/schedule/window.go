// Package schedule решает, наступил ли у подписчика локальный час рассылки.
package schedule

import (
	"errors"
	"strings"
	"sync"
	"time"
	// Встроенная база IANA: контейнер может не иметь /usr/share/zoneinfo.
	_ "time/tzdata"
)

// ErrInvalidTimezone возвращается, если указан некорректный часовой пояс.
var ErrInvalidTimezone = errors.New("invalid timezone")

var locations sync.Map // string -> *time.Location

// IsLocalHour сообщает, что в часовом поясе tz сейчас идёт час targetHour.
// Переходы на летнее время учитываются базой IANA: пропущенный час не
// совпадает ни разу, повторённый совпадает оба раза.
func IsLocalHour(nowUTC time.Time, tz string, targetHour int) bool {
	if targetHour < 0 || targetHour > 23 {
		return false
	}
	loc, err := loadLocation(tz)
	if err != nil {
		return false
	}
	return nowUTC.In(loc).Hour() == targetHour
}

// LocalDate возвращает полночь календарного дня момента now в поясе loc.
func LocalDate(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// NormalizeTimezone приводит пользовательский ввод вроде "europe/stockholm"
// к каноническому имени IANA.
func NormalizeTimezone(raw string) (string, error) {
	candidate := strings.TrimSpace(raw)
	if candidate == "" {
		return "", ErrInvalidTimezone
	}
	candidate = strings.ReplaceAll(candidate, " ", "_")
	if _, err := loadLocation(candidate); err == nil {
		return candidate, nil
	}

	lower := strings.ToLower(candidate)
	parts := strings.Split(lower, "/")
	for i, part := range parts {
		segments := strings.Split(part, "_")
		for j, segment := range segments {
			pieces := strings.Split(segment, "-")
			for k, piece := range pieces {
				if piece == "" {
					continue
				}
				pieces[k] = strings.ToUpper(piece[:1]) + piece[1:]
			}
			segments[j] = strings.Join(pieces, "-")
		}
		parts[i] = strings.Join(segments, "_")
	}
	normalized := strings.Join(parts, "/")
	if _, err := loadLocation(normalized); err == nil {
		return normalized, nil
	}
	return "", ErrInvalidTimezone
}

func loadLocation(tz string) (*time.Location, error) {
	if tz == "" {
		return nil, ErrInvalidTimezone
	}
	if cached, ok := locations.Load(tz); ok {
		return cached.(*time.Location), nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, err
	}
	locations.Store(tz, loc)
	return loc, nil
}
