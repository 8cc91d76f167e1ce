package humy

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

// DefaultNickname replaces names that are empty or look like contact details.
const DefaultNickname = "User"

const maxNicknameLen = 64

var (
	phonePattern = regexp.MustCompile(`^[+\d][\d\s().-]{6,}$`)

	// Keys a server may use to echo the client's idempotency token.
	echoKeys = []string{"tempId", "temp_id", "client_id", "clientId", "echo_id"}

	imageExt = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".webp": true, ".gif": true, ".bmp": true, ".avif": true}
	audioExt = map[string]bool{".mp3": true, ".m4a": true, ".aac": true, ".ogg": true, ".opus": true, ".wav": true, ".webm": true}
	videoExt = map[string]bool{".mp4": true, ".webm": true, ".mov": true, ".m4v": true, ".ogv": true}
)

// flexString accepts a JSON string, number or null and keeps its text form.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number: %w", err)
	}
	*f = flexString(n.String())
	return nil
}

func (f flexString) String() string { return string(f) }

// ============================================================================
// Decoding
// ============================================================================

// DecodeMessage converts a server message object, from a history page or a
// live frame, into a Message. The local user is not known here, so IsOwn is
// left false; the Timeline derives it.
func DecodeMessage(raw []byte) (Message, error) {
	if !gjson.ValidBytes(raw) {
		return Message{}, errors.New("decode message: invalid json")
	}
	r := gjson.ParseBytes(raw)
	if !r.IsObject() {
		return Message{}, errors.New("decode message: not an object")
	}
	id := r.Get("id")
	if !present(id) || id.String() == "" {
		return Message{}, errors.New("decode message: missing id")
	}

	m := Message{
		ID:          id.String(),
		AuthorID:    pickAuthorID(r),
		DisplayName: chooseNickname(r.Get("username").String(), r.Get("display_name").String()),
		Content:     r.Get("content").String(),
		Attachment:  decodeAttachment(r),
		ClientID:    echoToken(r),
	}
	for _, key := range []string{"room", "conversation", "conversation_id"} {
		if v := r.Get(key); present(v) && !v.IsObject() {
			m.ConversationID = v.String()
			break
		}
	}
	m.CreatedAt = parseTimestamp(r.Get("created_at").String())
	return m, nil
}

// decodeMessages decodes a JSON array of messages, skipping malformed ones.
func decodeMessages(arr gjson.Result) []Message {
	out := make([]Message, 0, len(arr.Array()))
	arr.ForEach(func(_, item gjson.Result) bool {
		if m, err := DecodeMessage([]byte(item.Raw)); err == nil {
			out = append(out, m)
		}
		return true
	})
	return out
}

func present(r gjson.Result) bool {
	return r.Exists() && r.Type != gjson.Null
}

// pickAuthorID looks at author_id, author (object id or scalar), user_id and
// user, in that order.
func pickAuthorID(r gjson.Result) *string {
	candidates := []gjson.Result{r.Get("author_id")}
	if author := r.Get("author"); author.IsObject() {
		candidates = append(candidates, author.Get("id"))
	} else {
		candidates = append(candidates, author)
	}
	candidates = append(candidates, r.Get("user_id"), r.Get("user"))

	for _, c := range candidates {
		if present(c) && !c.IsObject() && !c.IsArray() {
			s := c.String()
			return &s
		}
	}
	return nil
}

func echoToken(r gjson.Result) string {
	for _, key := range echoKeys {
		if v := r.Get(key); present(v) && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

func parseTimestamp(s string) time.Time {
	if s != "" {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t.UTC()
		}
	}
	return time.Now().UTC()
}

// chooseNickname picks the first candidate that does not look like an e-mail
// address or a phone number.
func chooseNickname(candidates ...string) string {
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" || looksLikeEmail(c) || looksLikePhone(c) {
			continue
		}
		return truncateRunes(c, maxNicknameLen)
	}
	return DefaultNickname
}

// SafeDisplayName applies the nickname rules to a locally supplied name.
func SafeDisplayName(name string) string {
	return chooseNickname(name)
}

func looksLikeEmail(s string) bool { return strings.Contains(s, "@") }

func looksLikePhone(s string) bool { return phonePattern.MatchString(s) }

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// ============================================================================
// Attachments
// ============================================================================

func decodeAttachment(r gjson.Result) *Attachment {
	url := r.Get("attachment_url").String()
	if url == "" {
		if a := r.Get("attachment"); a.Type == gjson.String {
			url = a.String()
		}
	}
	name := r.Get("attachment_name").String()
	if url == "" && name == "" {
		return nil
	}
	a := &Attachment{
		URL:  url,
		Name: name,
		Type: r.Get("attachment_type").String(),
		Mime: r.Get("meta.mime").String(),
	}
	a.Kind = GuessAttachmentKind(a.URL, a.Type, a.Name, a.Mime)
	return a
}

// GuessAttachmentKind classifies an attachment by MIME type first, then the
// declared type, then the file extension of the URL or name.
func GuessAttachmentKind(url, declaredType, name, mime string) AttachmentKind {
	if mime != "" {
		m := strings.ToLower(mime)
		switch {
		case strings.HasPrefix(m, "audio/"):
			return AttachmentAudio
		case strings.HasPrefix(m, "video/"):
			return AttachmentVideo
		case strings.HasPrefix(m, "image/"):
			return AttachmentImage
		}
	}
	if declaredType == "image" {
		return AttachmentImage
	}

	src := strings.ToLower(url)
	if src == "" {
		src = strings.ToLower(name)
	}
	if i := strings.IndexAny(src, "?#"); i >= 0 {
		src = src[:i]
	}
	ext := path.Ext(src)
	switch {
	case imageExt[ext]:
		return AttachmentImage
	case audioExt[ext]:
		return AttachmentAudio
	case videoExt[ext]:
		return AttachmentVideo
	case url != "":
		return AttachmentFile
	}
	return AttachmentNone
}
