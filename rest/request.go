package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"net/url"

	"github.com/TicketsBot/shardkit/snowflake"
)

const (
	ContentTypeJSON = "application/json"
)

type Request struct {
	Method string
	Path   string
	Query  url.Values

	// Body is encoded as JSON, or sent as the payload_json part when Files are attached.
	Body        interface{}
	Files       []File
	ContentType string
	Reason      string // audit log reason
}

type File struct {
	Reader      io.Reader
	Name        string
	ContentType string
}

type result struct {
	body []byte
	err  error
}

// pendingRequest is one queued call. Its result slot is written exactly once.
type pendingRequest struct {
	id          snowflake.Snowflake
	ctx         context.Context
	request     Request
	body        []byte
	contentType string
	attempts    int
	result      chan result
}

func newPendingRequest(ctx context.Context, id snowflake.Snowflake, request Request) (*pendingRequest, error) {
	body, contentType, err := encodeBody(request)
	if err != nil {
		return nil, err
	}

	return &pendingRequest{
		id:          id,
		ctx:         ctx,
		request:     request,
		body:        body,
		contentType: contentType,
		result:      make(chan result, 1),
	}, nil
}

func (p *pendingRequest) resolve(body []byte, err error) {
	p.result <- result{body: body, err: err}
}

// encodeBody encodes the body once, so throttled requests can be replayed unchanged.
func encodeBody(request Request) ([]byte, string, error) {
	if len(request.Files) > 0 {
		return encodeMultipart(request)
	}

	if request.Body == nil {
		return nil, "", nil
	}

	encoded, ok := request.Body.([]byte)
	if !ok {
		var err error
		if encoded, err = json.Marshal(request.Body); err != nil {
			return nil, "", err
		}
	}

	contentType := request.ContentType
	if contentType == "" {
		contentType = ContentTypeJSON
	}

	return encoded, contentType, nil
}

func encodeMultipart(request Request) ([]byte, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if request.Body != nil {
		encoded, err := json.Marshal(request.Body)
		if err != nil {
			return nil, "", err
		}

		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", `form-data; name="payload_json"`)
		header.Set("Content-Type", ContentTypeJSON)

		part, err := writer.CreatePart(header)
		if err != nil {
			return nil, "", err
		}

		if _, err := part.Write(encoded); err != nil {
			return nil, "", err
		}
	}

	for i, file := range request.Files {
		contentType := file.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}

		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file%d"; filename="%s"`, i, escapeQuotes(file.Name)))
		header.Set("Content-Type", contentType)

		part, err := writer.CreatePart(header)
		if err != nil {
			return nil, "", err
		}

		if _, err := io.Copy(part, file.Reader); err != nil {
			return nil, "", err
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", err
	}

	return buf.Bytes(), writer.FormDataContentType(), nil
}

func escapeQuotes(s string) string {
	var buf bytes.Buffer
	for _, r := range s {
		if r == '"' || r == '\\' {
			buf.WriteRune('\\')
		}
		buf.WriteRune(r)
	}

	return buf.String()
}
