package card

import (
	"net/url"
	"strconv"
	"strings"
	"time"
)

// TimestampLayout is how card timestamps are printed.
const TimestampLayout = "2006-01-02 15:04:05 MST"

// WIB is Western Indonesia Time, UTC+7.
var WIB = time.FixedZone("WIB", 7*60*60)

// FormatTimestamp renders unix seconds in WIB.
func FormatTimestamp(unix uint64) string {
	return time.Unix(int64(unix), 0).In(WIB).Format(TimestampLayout)
}

// UserCardView is the data of the user card template.
type UserCardView struct {
	Username  string
	Tag       string
	Nickname  string
	RoleName  string
	CreatedAt string
	JoinedAt  string
	Extra     UserCardExtra
}

// UserCardExtra is handed to the page script as JSON.
type UserCardExtra struct {
	Flags      []string `json:"flags"`
	RoleColor  *string  `json:"role_color"`
	Status     *string  `json:"status"`
	StatusText *string  `json:"status_text"`
	ImgURL     *string  `json:"img_url"`
}

// Picker returns a pseudo-random index in [0, n).
type Picker func(n int) int

// View builds the template view of r. pick selects the status text; nil
// means random.
func (r UserCardRequest) View(pick Picker) UserCardView {
	extra := UserCardExtra{
		Flags:     []string{},
		RoleColor: r.RoleColor,
	}
	if r.Flags != nil {
		extra.Flags = append(extra.Flags, r.Flags...)
	}
	if r.ImgURL != nil {
		img := *r.ImgURL
		if unescaped, err := url.PathUnescape(img); err == nil {
			img = unescaped
		}
		extra.ImgURL = &img
	}
	if r.Status != nil {
		if class, ok := StatusClass(*r.Status); ok {
			extra.Status = &class
		}
		text := RandomStatusText(*r.Status, pick)
		extra.StatusText = &text
	}

	return UserCardView{
		Username:  r.Username,
		Tag:       deref(r.Tag),
		Nickname:  deref(r.Nickname),
		RoleName:  deref(r.RoleName),
		CreatedAt: FormatTimestamp(r.CreatedAt),
		JoinedAt:  FormatTimestamp(r.JoinedAt),
		Extra:     extra,
	}
}

// StatusClass maps a presence status to its CSS class.
func StatusClass(status string) (string, bool) {
	switch strings.ToLower(status) {
	case "online":
		return "online", true
	case "idle":
		return "idle", true
	case "dnd":
		return "dnd", true
	case "offline":
		return "off", true
	default:
		return "", false
	}
}

// OGImageView is the data of the social preview template.
type OGImageView struct {
	Name     string
	Debt     *Line
	Projects *Line
}

// Line is a counter line: plain text followed by an emphasized part.
type Line struct {
	Text     string
	Emphasis string
}

// View builds the template view of r.
func (r OGImageRequest) View() OGImageView {
	v := OGImageView{Name: r.Name}
	if r.Count != nil {
		v.Debt = counterLine(*r.Count, "Tidak ada utang", "Sisa utang: ", "utang")
	}
	if r.Total != nil {
		v.Projects = counterLine(*r.Total, "Tidak ada garapan", "Proyek: ", "garapan")
	}
	return v
}

func counterLine(n uint64, none, prefix, unit string) *Line {
	if n == 0 {
		return &Line{Text: none}
	}
	return &Line{Text: prefix, Emphasis: strconv.FormatUint(n, 10) + " " + unit}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
