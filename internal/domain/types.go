package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type OpenType string

const (
	OpenBot        OpenType = "bot"
	OpenGmailProxy OpenType = "gmail-proxy"
	OpenYahooProxy OpenType = "yahoo-proxy"
	OpenBrowser    OpenType = "browser"
	OpenMobile     OpenType = "mobile"
	OpenUnknown    OpenType = "unknown"
)

// IsProxy reports whether t is a webmail image proxy fetch.
func (t OpenType) IsProxy() bool {
	return t == OpenGmailProxy || t == OpenYahooProxy
}

const UnknownRecipient = "Unknown"

var (
	ErrValidation  = errors.New("validation error")
	ErrNotFound    = errors.New("not found")
	ErrAlreadySent = errors.New("already marked sent")
	ErrStorage     = errors.New("storage error")
)

type Owner struct {
	Key       string    `json:"-"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
}

type DeviceInfo struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

// ForensicHeaders are the request headers kept on each open for display.
type ForensicHeaders struct {
	Via            *string `json:"via"`
	Accept         *string `json:"accept"`
	AcceptLanguage *string `json:"acceptLanguage"`
	AcceptEncoding *string `json:"acceptEncoding"`
}

type OpenEvent struct {
	Timestamp     time.Time       `json:"timestamp"`
	UserAgent     string          `json:"userAgent"`
	IP            string          `json:"ip"`
	Referer       string          `json:"referer"`
	OpenType      OpenType        `json:"openType"`
	IsReal        bool            `json:"isReal"`
	IsSelfView    bool            `json:"isSelfView"`
	InGracePeriod bool            `json:"inGracePeriod"`
	Counted       bool            `json:"counted"`
	DeviceInfo    DeviceInfo      `json:"deviceInfo"`
	Headers       ForensicHeaders `json:"headers"`
}

type Record struct {
	ID          string      `json:"id"`
	TrackingID  string      `json:"trackingId"`
	TrackingURL string      `json:"trackingUrl"`
	Subject     string      `json:"subject"`
	Recipient   string      `json:"recipient"`
	OwnerKey    string      `json:"-"`
	SenderIP    string      `json:"-"`
	CreatedAt   time.Time   `json:"createdAt"`
	SentAt      *time.Time  `json:"sentAt"`
	Opens       []OpenEvent `json:"opens"`
	OpenCount   int         `json:"openCount"`
	LastOpened  *time.Time  `json:"lastOpened"`
}

// GraceAnchor is the instant the grace period is measured from.
func (r Record) GraceAnchor() time.Time {
	if r.SentAt != nil {
		return *r.SentAt
	}
	return r.CreatedAt
}

type CreateRecordRequest struct {
	Subject   string `json:"subject"`
	Recipient string `json:"recipient"`
}

func (r CreateRecordRequest) Validate() error {
	if strings.TrimSpace(r.Subject) == "" {
		return ErrMissingSubject
	}
	return nil
}

var ErrMissingSubject = fmt.Errorf("%w: subject is required", ErrValidation)

type MarkSentResponse struct {
	SentAt time.Time `json:"sentAt"`
}

type RegisterResponse struct {
	APIKey string `json:"apiKey"`
	UserID string `json:"userId"`
}

// FetchMetadata is what the HTTP layer extracts from one pixel request.
type FetchMetadata struct {
	UserAgent string            `json:"userAgent"`
	IP        string            `json:"ip"`
	Referer   string            `json:"referer"`
	Headers   map[string]string `json:"headers"`
	FetchedAt time.Time         `json:"fetchedAt"`
}

// Header returns a captured header value by lowercase name.
func (m FetchMetadata) Header(name string) (string, bool) {
	v, ok := m.Headers[strings.ToLower(name)]
	return v, ok
}

// OpenJob carries one pixel fetch from the HTTP layer to the ledger.
type OpenJob struct {
	TrackingID string        `json:"trackingId"`
	Fetch      FetchMetadata `json:"fetch"`
}
