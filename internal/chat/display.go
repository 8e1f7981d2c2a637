package chat

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/lalith-99/chatline/internal/models"
	"github.com/mozillazg/go-pinyin"
)

const (
	defaultImageFormat = "/media/static_default/%s.png"
	githubLinkImage    = "/media/link_image/github_com_.png"
)

// Displayable is anything that renders with an image: either a stored
// blob or a generated default keyed by its initial.
type Displayable interface {
	ImageKey() string
	DisplayName() string
}

// fixedImage is implemented by entities that always use a well-known
// image regardless of stored content.
type fixedImage interface {
	FixedImageURL() (string, bool)
}

// ResolveDisplayURL returns the URL an entity's image is served from. It
// is pure: it never touches the store or schedules work. Entities without
// an image fall back to the default tile for their initial.
func ResolveDisplayURL(mediaBase string, e Displayable) string {
	if f, ok := e.(fixedImage); ok {
		if u, ok := f.FixedImageURL(); ok {
			return u
		}
	}
	if key := e.ImageKey(); key != "" {
		return MediaURL(mediaBase, key)
	}
	return fmt.Sprintf(defaultImageFormat, Initial(e.DisplayName()))
}

// AttachmentURL is the download URL for a message's attachment, or "".
func AttachmentURL(mediaBase string, m *models.Message) string {
	if m == nil || m.Attachment == nil || m.Attachment.Key == "" {
		return ""
	}
	return MediaURL(mediaBase, m.Attachment.Key)
}

// MediaURL joins the media base and a blob key.
func MediaURL(mediaBase, key string) string {
	return strings.TrimRight(mediaBase, "/") + "/" + key
}

var pinyinArgs = pinyin.NewArgs()

// Initial is the uppercased first letter of name, "#" for empty names.
// Chinese names use the first letter of their pinyin.
func Initial(name string) string {
	r, _ := utf8.DecodeRuneInString(strings.TrimSpace(name))
	if r == utf8.RuneError {
		return "#"
	}
	if unicode.Is(unicode.Han, r) {
		if py := pinyin.LazyPinyin(string(r), pinyinArgs); len(py) > 0 && py[0] != "" {
			return strings.ToUpper(py[0][:1])
		}
	}
	return string(unicode.ToUpper(r))
}

// Displayable adapters for the models.

type ConversationImage struct{ C *models.Conversation }

func (c ConversationImage) ImageKey() string { return c.C.ImageKey }

func (c ConversationImage) DisplayName() string {
	if c.C.Name != "" {
		return c.C.Name
	}
	return c.C.ShowName
}

type UserImage struct{ U *models.User }

func (u UserImage) ImageKey() string    { return u.U.AvatarKey }
func (u UserImage) DisplayName() string { return u.U.DisplayName }

type LinkImage struct{ L *models.Link }

func (l LinkImage) ImageKey() string    { return l.L.PreviewKey }
func (l LinkImage) DisplayName() string { return l.L.Name }

func (l LinkImage) FixedImageURL() (string, bool) {
	if strings.HasPrefix(l.L.URL, "https://github.com") {
		return githubLinkImage, true
	}
	return "", false
}
