package digest

import (
	"fmt"
	"html"
	"net/url"
	"strings"
	"time"

	"neighborhood-digest/internal/domain"
)

const fallbackSubject = "Your Daily Brief"

// Rendered — готовое к отправке письмо.
type Rendered struct {
	Subject string
	HTML    string
}

// Renderer превращает собранный дайджест в тему и HTML письма.
type Renderer struct {
	unsubscribeBaseURL string
}

// NewRenderer создаёт рендерер.
func NewRenderer(unsubscribeBaseURL string) *Renderer {
	return &Renderer{unsubscribeBaseURL: strings.TrimSpace(unsubscribeBaseURL)}
}

// Subject формирует тему письма по основному району и местной дате получателя.
func (r *Renderer) Subject(rcpt domain.Recipient, d domain.DigestContent, now time.Time) string {
	name := ""
	switch {
	case d.Primary != nil:
		name = d.Primary.NeighborhoodName
	case len(d.Satellites) > 0:
		name = d.Satellites[0].NeighborhoodName
	}
	date := now.In(recipientLocation(rcpt)).Format("Mon, Jan 2")
	if strings.TrimSpace(name) == "" {
		return fmt.Sprintf("%s: %s", fallbackSubject, date)
	}
	return fmt.Sprintf("%s Daily Brief: %s", strings.TrimSpace(name), date)
}

// Render формирует письмо целиком.
func (r *Renderer) Render(rcpt domain.Recipient, d domain.DigestContent, now time.Time) Rendered {
	var parts []string

	if ad := renderAd(d.HeaderAd); ad != "" {
		parts = append(parts, ad)
	}
	if d.Primary != nil {
		if section := renderSection(*d.Primary, true); section != "" {
			parts = append(parts, section)
		}
	}
	if ad := renderAd(d.NativeAd); ad != "" {
		parts = append(parts, ad)
	}
	for _, s := range d.Satellites {
		if section := renderSection(s, false); section != "" {
			parts = append(parts, section)
		}
	}
	if footer := r.footer(rcpt); footer != "" {
		parts = append(parts, footer)
	}

	var b strings.Builder
	b.WriteString("<!DOCTYPE html><html><body>")
	b.WriteString(strings.Join(parts, "\n"))
	b.WriteString("</body></html>")
	return Rendered{Subject: r.Subject(rcpt, d, now), HTML: b.String()}
}

func renderSection(s domain.Section, primary bool) string {
	var items []string
	for _, story := range s.Stories {
		headline := strings.TrimSpace(story.Headline)
		if headline == "" {
			continue
		}
		title := escapeHTML(headline)
		if link := strings.TrimSpace(story.URL); link != "" {
			title = fmt.Sprintf("<a href=\"%s\">%s</a>", escapeHTML(link), title)
		}
		line := "<li>" + title
		if summary := strings.TrimSpace(story.Summary); summary != "" {
			line += "<p>" + escapeHTML(summary) + "</p>"
		}
		items = append(items, line+"</li>")
	}

	if len(items) == 0 && (!primary || s.Weather == nil) {
		return ""
	}

	tag := "h3"
	if primary {
		tag = "h2"
	}
	var b strings.Builder
	b.WriteString("<section>")
	b.WriteString(fmt.Sprintf("<%s>%s</%s>", tag, escapeHTML(s.NeighborhoodName), tag))
	if primary && s.Weather != nil {
		b.WriteString(fmt.Sprintf("<p class=\"weather\">%.0f°F / %.0f°C, %s</p>",
			s.Weather.TemperatureF, s.Weather.TemperatureC, escapeHTML(s.Weather.Description)))
	}
	if len(items) > 0 {
		b.WriteString("<ul>" + strings.Join(items, "") + "</ul>")
	}
	b.WriteString("</section>")
	return b.String()
}

func renderAd(ad *domain.Ad) string {
	if ad == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("<aside class=\"ad ad-%s\">", escapeHTML(string(ad.Slot))))
	b.WriteString("<small>Sponsored by " + escapeHTML(ad.Sponsor) + "</small>")
	headline := escapeHTML(ad.Headline)
	if link := strings.TrimSpace(ad.ClickURL); link != "" {
		headline = fmt.Sprintf("<a href=\"%s\">%s</a>", escapeHTML(link), headline)
	}
	b.WriteString("<h4>" + headline + "</h4>")
	if img := strings.TrimSpace(ad.ImageURL); img != "" {
		b.WriteString(fmt.Sprintf("<img src=\"%s\" alt=\"%s\">", escapeHTML(img), escapeHTML(ad.Sponsor)))
	}
	if body := strings.TrimSpace(ad.Body); body != "" {
		b.WriteString("<p>" + escapeHTML(body) + "</p>")
	}
	b.WriteString("</aside>")
	return b.String()
}

func (r *Renderer) footer(rcpt domain.Recipient) string {
	link := r.UnsubscribeURL(rcpt)
	if link == "" {
		return ""
	}
	return fmt.Sprintf("<footer><a href=\"%s\">Unsubscribe</a></footer>", escapeHTML(link))
}

// UnsubscribeURL возвращает ссылку отписки или пустую строку, если токена нет.
func (r *Renderer) UnsubscribeURL(rcpt domain.Recipient) string {
	token := strings.TrimSpace(rcpt.UnsubscribeToken)
	if token == "" || r.unsubscribeBaseURL == "" {
		return ""
	}
	sep := "?"
	if strings.Contains(r.unsubscribeBaseURL, "?") {
		sep = "&"
	}
	return r.unsubscribeBaseURL + sep + "token=" + url.QueryEscape(token)
}

func recipientLocation(rcpt domain.Recipient) *time.Location {
	if loc, err := time.LoadLocation(rcpt.Timezone); err == nil && rcpt.Timezone != "" {
		return loc
	}
	return time.UTC
}

func escapeHTML(s string) string {
	return html.EscapeString(s)
}
