// Package tokens issues and redeems the single-use links mailed with every
// booking. A token is an opaque capability: the stored row and its expiry
// decide validity, the encoded fields are only a sanity check.
package tokens

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/brokerdesk/crm/services/scheduling-service/internal/model"
)

var ErrMalformed = errors.New("malformed token")

type Claims struct {
	AppointmentID string
	Action        model.TokenAction
	IssuedAt      time.Time
}

// Encode returns base64("{appointmentId}:{action}:{epochMillis}").
func Encode(appointmentID string, action model.TokenAction, issuedAt time.Time) string {
	raw := fmt.Sprintf("%s:%s:%d", appointmentID, action, issuedAt.UnixMilli())
	return base64.URLEncoding.EncodeToString([]byte(raw))
}

// Decode accepts URL-safe and standard base64, padded or not.
func Decode(token string) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, ErrMalformed
	}
	raw, err := decodeAny(token)
	if err != nil {
		return Claims{}, ErrMalformed
	}
	s := string(raw)
	last := strings.LastIndexByte(s, ':')
	if last < 0 {
		return Claims{}, ErrMalformed
	}
	mid := strings.LastIndexByte(s[:last], ':')
	if mid <= 0 {
		return Claims{}, ErrMalformed
	}
	millis, err := strconv.ParseInt(s[last+1:], 10, 64)
	if err != nil {
		return Claims{}, ErrMalformed
	}
	action := model.TokenAction(s[mid+1 : last])
	if !action.Valid() {
		return Claims{}, ErrMalformed
	}
	return Claims{
		AppointmentID: s[:mid],
		Action:        action,
		IssuedAt:      time.UnixMilli(millis).UTC(),
	}, nil
}

func decodeAny(s string) ([]byte, error) {
	for _, enc := range []*base64.Encoding{
		base64.URLEncoding, base64.RawURLEncoding, base64.StdEncoding, base64.RawStdEncoding,
	} {
		if b, err := enc.DecodeString(s); err == nil {
			return b, nil
		}
	}
	return nil, ErrMalformed
}
