package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/chatline/internal/chat"
	"github.com/lalith-99/chatline/internal/middleware"
	"github.com/lalith-99/chatline/internal/models"
	"go.uber.org/zap"
)

// multipartOverhead is allowed on top of the attachment bound for form
// fields and part headers. Parts above multipartMemory spill to disk.
const (
	multipartOverhead = 1 << 20
	multipartMemory   = 8 << 20
)

type MessageHandler struct {
	log                *chat.Log
	mediaURL           string
	maxAttachmentBytes int64
	logger             *zap.Logger
}

func NewMessageHandler(log *chat.Log, mediaURL string, maxAttachmentBytes int64, logger *zap.Logger) *MessageHandler {
	return &MessageHandler{log: log, mediaURL: mediaURL, maxAttachmentBytes: maxAttachmentBytes, logger: logger}
}

type sendMessageRequest struct {
	Body string `json:"body"`
}

type attachmentResponse struct {
	*models.Attachment
	URL       string `json:"url"`
	SizeLabel string `json:"size_label"`
}

type messageResponse struct {
	models.Message
	Attachment *attachmentResponse `json:"attachment,omitempty"`
}

func presentMessage(mediaURL string, m models.Message) messageResponse {
	out := messageResponse{Message: m}
	if m.Attachment != nil {
		out.Attachment = &attachmentResponse{
			Attachment: m.Attachment,
			URL:        chat.AttachmentURL(mediaURL, &m),
			SizeLabel:  chat.AttachmentSizeLabel(m.Attachment.Size),
		}
	}
	return out
}

// Create handles POST /v1/conversations/:id/messages
//
// JSON bodies carry text only. A multipart form carries "body" and an
// optional "file" part.
func (h *MessageHandler) Create(c *gin.Context) {
	conversationID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	var (
		text   string
		upload *chat.Upload
	)
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		if h.maxAttachmentBytes > 0 {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxAttachmentBytes+multipartOverhead)
		}
		if err := c.Request.ParseMultipartForm(multipartMemory); err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": chat.ErrPayloadTooLarge.Error()})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed multipart body"})
			return
		}
		text = c.PostForm("body")
		fh, err := c.FormFile("file")
		switch {
		case err == nil:
			f, err := fh.Open()
			if err != nil {
				h.logger.Error("failed to open upload", zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read upload"})
				return
			}
			defer f.Close()
			upload = &chat.Upload{
				Name:     fh.Filename,
				Size:     fh.Size,
				MimeType: fh.Header.Get("Content-Type"),
				Reader:   f,
			}
		case !errors.Is(err, http.ErrMissingFile):
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed multipart body"})
			return
		}
	} else {
		var req sendMessageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		text = req.Body
	}

	msg, err := h.log.Append(c.Request.Context(), conversationID, middleware.GetUserID(c), text, upload)
	if err != nil {
		respondError(c, h.logger, err, "send message")
		return
	}
	c.JSON(http.StatusCreated, presentMessage(h.mediaURL, *msg))
}

type messagePage struct {
	Messages []messageResponse `json:"messages"`
	Next     string            `json:"next"`
}

// List handles GET /v1/conversations/:id/messages?since=<cursor>&limit=50
//
// Messages come oldest first, strictly after the cursor. Passing "next"
// back as "since" continues where the page ended; an empty page returns
// the same cursor so polling is safe.
func (h *MessageHandler) List(c *gin.Context) {
	conversationID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	cursor, err := chat.ParseCursor(c.Query("since"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'since' parameter"})
		return
	}

	limit := chat.DefaultPageSize
	if l := c.Query("limit"); l != "" {
		limit, err = strconv.Atoi(l)
		if err != nil || limit < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'limit' parameter"})
			return
		}
	}

	page, err := h.log.ListSince(c.Request.Context(), conversationID, middleware.GetUserID(c), cursor, limit)
	if err != nil {
		respondError(c, h.logger, err, "list messages")
		return
	}

	out := messagePage{
		Messages: make([]messageResponse, 0, len(page.Messages)),
		Next:     page.Next.String(),
	}
	for _, m := range page.Messages {
		out.Messages = append(out.Messages, presentMessage(h.mediaURL, m))
	}
	c.JSON(http.StatusOK, out)
}
