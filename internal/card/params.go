// Package card holds the request parameters of every artifact family, their
// strict query decoders and the view models handed to the HTML templates.
package card

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

var (
	// ErrUnknownParameter is returned for query keys a family does not accept.
	ErrUnknownParameter = errors.New("unknown parameter")
	// ErrInvalidParameter is returned for missing or unparseable values.
	ErrInvalidParameter = errors.New("invalid parameter")
)

// Query keys.
const (
	KeyUsername  = "username"
	KeyTag       = "tag"
	KeyNickname  = "nickname"
	KeyRoleName  = "role_name"
	KeyRoleColor = "role_color"
	KeyCreatedAt = "created_at"
	KeyJoinedAt  = "joined_at"
	KeyFlags     = "flags"
	KeyStatus    = "status"
	KeyImgURL    = "img_url"

	KeyName  = "name"
	KeyCount = "count"
	KeyTotal = "total"
)

// UserCardRequest describes a Discord-style profile card.
type UserCardRequest struct {
	Username  string
	Tag       *string
	Nickname  *string
	RoleName  *string
	RoleColor *string
	CreatedAt uint64
	JoinedAt  uint64
	Flags     []string
	Status    *string
	ImgURL    *string
}

var userCardKeys = keySet(KeyUsername, KeyTag, KeyNickname, KeyRoleName, KeyRoleColor,
	KeyCreatedAt, KeyJoinedAt, KeyFlags, KeyStatus, KeyImgURL)

// DecodeUserCard parses q strictly. Unknown keys fail with
// ErrUnknownParameter; a missing username or timestamp, or a timestamp that
// is not an unsigned integer, fails with ErrInvalidParameter.
func DecodeUserCard(q url.Values) (UserCardRequest, error) {
	if err := checkKeys(q, userCardKeys); err != nil {
		return UserCardRequest{}, err
	}
	var (
		req UserCardRequest
		err error
	)
	if req.Username, err = required(q, KeyUsername); err != nil {
		return UserCardRequest{}, err
	}
	if req.CreatedAt, err = requiredUint(q, KeyCreatedAt); err != nil {
		return UserCardRequest{}, err
	}
	if req.JoinedAt, err = requiredUint(q, KeyJoinedAt); err != nil {
		return UserCardRequest{}, err
	}
	req.Tag = optional(q, KeyTag)
	req.Nickname = optional(q, KeyNickname)
	req.RoleName = optional(q, KeyRoleName)
	req.RoleColor = optional(q, KeyRoleColor)
	req.Status = optional(q, KeyStatus)
	req.ImgURL = optional(q, KeyImgURL)
	if flags := optional(q, KeyFlags); flags != nil {
		req.Flags = strings.Split(*flags, ",")
	}
	return req, nil
}

// Values returns the canonical query of r. Unset optional fields are omitted.
func (r UserCardRequest) Values() url.Values {
	q := url.Values{}
	q.Set(KeyUsername, r.Username)
	q.Set(KeyCreatedAt, strconv.FormatUint(r.CreatedAt, 10))
	q.Set(KeyJoinedAt, strconv.FormatUint(r.JoinedAt, 10))
	setOptional(q, KeyTag, r.Tag)
	setOptional(q, KeyNickname, r.Nickname)
	setOptional(q, KeyRoleName, r.RoleName)
	setOptional(q, KeyRoleColor, r.RoleColor)
	setOptional(q, KeyStatus, r.Status)
	setOptional(q, KeyImgURL, r.ImgURL)
	if r.Flags != nil {
		q.Set(KeyFlags, strings.Join(r.Flags, ","))
	}
	return q
}

// Encode returns the canonical query string of r, keys sorted.
func (r UserCardRequest) Encode() string {
	return r.Values().Encode()
}

// OGImageRequest describes a social preview card.
type OGImageRequest struct {
	Name  string
	Count *uint64
	Total *uint64
}

var ogImageKeys = keySet(KeyName, KeyCount, KeyTotal)

// DecodeOGImage parses q strictly; see DecodeUserCard.
func DecodeOGImage(q url.Values) (OGImageRequest, error) {
	if err := checkKeys(q, ogImageKeys); err != nil {
		return OGImageRequest{}, err
	}
	var (
		req OGImageRequest
		err error
	)
	if req.Name, err = required(q, KeyName); err != nil {
		return OGImageRequest{}, err
	}
	if req.Count, err = optionalUint(q, KeyCount); err != nil {
		return OGImageRequest{}, err
	}
	if req.Total, err = optionalUint(q, KeyTotal); err != nil {
		return OGImageRequest{}, err
	}
	return req, nil
}

// Values returns the canonical query of r.
func (r OGImageRequest) Values() url.Values {
	q := url.Values{}
	q.Set(KeyName, r.Name)
	if r.Count != nil {
		q.Set(KeyCount, strconv.FormatUint(*r.Count, 10))
	}
	if r.Total != nil {
		q.Set(KeyTotal, strconv.FormatUint(*r.Total, 10))
	}
	return q
}

// Encode returns the canonical query string of r, keys sorted.
func (r OGImageRequest) Encode() string {
	return r.Values().Encode()
}

// ParseQuery parses a raw query string. Pairs that do not parse fail the
// whole query with ErrInvalidParameter instead of being dropped.
func ParseQuery(raw string) (url.Values, error) {
	q, err := url.ParseQuery(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed query: %v", ErrInvalidParameter, err)
	}
	return q, nil
}

func keySet(keys ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		out[k] = struct{}{}
	}
	return out
}

func checkKeys(q url.Values, allowed map[string]struct{}) error {
	var unknown []string
	for k := range q {
		if _, ok := allowed[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return fmt.Errorf("%w: %s", ErrUnknownParameter, strings.Join(unknown, ", "))
}

// Repeated keys take their first value.
func optional(q url.Values, key string) *string {
	vals, ok := q[key]
	if !ok || len(vals) == 0 {
		return nil
	}
	v := vals[0]
	return &v
}

func required(q url.Values, key string) (string, error) {
	v := optional(q, key)
	if v == nil {
		return "", fmt.Errorf("%w: %s is required", ErrInvalidParameter, key)
	}
	return *v, nil
}

func requiredUint(q url.Values, key string) (uint64, error) {
	raw, err := required(q, key)
	if err != nil {
		return 0, err
	}
	return parseUint(key, raw)
}

func optionalUint(q url.Values, key string) (*uint64, error) {
	raw := optional(q, key)
	if raw == nil {
		return nil, nil
	}
	v, err := parseUint(key, *raw)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func parseUint(key, raw string) (uint64, error) {
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an unsigned integer", ErrInvalidParameter, key)
	}
	return v, nil
}

func setOptional(q url.Values, key string, v *string) {
	if v != nil {
		q.Set(key, *v)
	}
}
