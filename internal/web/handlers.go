package web

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	perrors "github.com/FocuswithJustin/parseweb/core/errors"
	"github.com/FocuswithJustin/parseweb/core/runner"
	"github.com/FocuswithJustin/parseweb/internal/logging"
	"github.com/FocuswithJustin/parseweb/internal/page"
	"github.com/FocuswithJustin/parseweb/internal/server"
	"github.com/FocuswithJustin/parseweb/internal/validation"
)

// Form fields.
const (
	fieldSelection = "language"
	fieldText      = "userdata"
)

// multipartMemory is the in-memory share of a multipart form; the rest is
// bounded by limits.max_input_bytes.
const multipartMemory = 1 << 20

// Banner messages shown to clients.
const (
	msgInvocation  = "The parser could not be run."
	msgDecode      = "The parser produced output that could not be decoded."
	msgTooLarge    = "Input text is too large."
	msgBadForm     = "The form could not be read."
	msgContentType = "Unsupported content type."
	msgInternal    = "An internal error occurred."
)

var errUnsupportedContentType = errors.New("unsupported content type")

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.render(w, r, false, http.StatusOK, page.Data{
			Selected: r.URL.Query().Get(fieldSelection),
		})
	case http.MethodPost:
		s.handleParse(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleParse runs the parser for a submitted form. Empty fields render the
// bare form and never reach the parser.
func (s *Server) handleParse(w http.ResponseWriter, r *http.Request) {
	if err := s.parseForm(w, r); err != nil {
		s.renderError(w, r, page.Data{}, err)
		return
	}

	selection := strings.TrimSpace(r.PostFormValue(fieldSelection))
	text := validation.SanitizeText(r.PostFormValue(fieldText))
	data := page.Data{Selected: selection, Query: text}

	if selection == "" || strings.TrimSpace(text) == "" {
		s.render(w, r, false, http.StatusOK, data)
		return
	}

	if !s.catalog.Contains(selection) {
		s.renderError(w, r, data, &perrors.UnknownSelectionError{Name: selection})
		return
	}

	res, err := s.invoker.Invoke(r.Context(), runner.Request{Name: selection, Text: text})
	if err != nil {
		s.renderError(w, r, data, err)
		return
	}

	data.Content = page.RenderBlocks(runner.SplitBlocks(res.Stdout))
	s.render(w, r, true, http.StatusOK, data)
}

// parseForm reads an urlencoded or multipart body within the input limit.
func (s *Server) parseForm(w http.ResponseWriter, r *http.Request) error {
	if ct := r.Header.Get("Content-Type"); ct != "" && !server.ValidateContentType(ct, server.FormContentTypes) {
		return errUnsupportedContentType
	}
	if limit := s.cfg.Limits.MaxInputBytes; limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}

	err := r.ParseMultipartForm(multipartMemory)
	if err == nil || perrors.Is(err, http.ErrNotMultipart) {
		return nil
	}
	var tooLarge *http.MaxBytesError
	if perrors.As(err, &tooLarge) {
		return err
	}
	return perrors.NewValidation("form", err.Error())
}

// classify maps a request error to a status code and banner text.
func (s *Server) classify(err error) (int, string) {
	var (
		unknown  *perrors.UnknownSelectionError
		timeout  *perrors.ParserTimeoutError
		decode   *perrors.ParserOutputDecodeError
		invoke   *perrors.ParserInvocationError
		tooLarge *http.MaxBytesError
	)

	switch {
	case perrors.As(err, &unknown):
		return http.StatusBadRequest, "Unknown selection: " + unknown.Name
	case perrors.As(err, &timeout):
		return http.StatusGatewayTimeout, fmt.Sprintf("Parser timed out after %v", timeout.Timeout)
	case perrors.As(err, &decode):
		return http.StatusBadGateway, s.detail(msgDecode, err)
	case perrors.As(err, &invoke):
		return http.StatusBadGateway, s.detail(msgInvocation, err)
	case perrors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, msgTooLarge
	case perrors.Is(err, errUnsupportedContentType):
		return http.StatusUnsupportedMediaType, msgContentType
	case perrors.Is(err, perrors.ErrInvalidInput):
		return http.StatusBadRequest, msgBadForm
	default:
		return http.StatusInternalServerError, s.detail(msgInternal, err)
	}
}

// detail appends the error text in debug mode only.
func (s *Server) detail(msg string, err error) string {
	if !s.cfg.Server.Debug {
		return msg
	}
	return msg + " (" + err.Error() + ")"
}

// renderError logs err and shows the form with a banner.
func (s *Server) renderError(w http.ResponseWriter, r *http.Request, data page.Data, err error) {
	status, msg := s.classify(err)
	if err := r.Context().Err(); err != nil {
		logging.InfoContext(r.Context(), "client_gone", "error", err.Error())
		return
	}

	if status >= http.StatusInternalServerError {
		logging.ErrorContext(r.Context(), "request_failed", "status", status, "error", err.Error())
	} else {
		logging.WarnContext(r.Context(), "request_rejected", "status", status, "error", err.Error())
	}

	data.Error = msg
	data.Content = ""
	s.render(w, r, false, status, data)
}

// render fills the index or result page and writes it with status.
func (s *Server) render(w http.ResponseWriter, r *http.Request, result bool, status int, data page.Data) {
	index, res, err := s.templates()
	if err != nil {
		logging.ErrorContext(r.Context(), "template_load_failed", "error", err.Error())
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	tmpl := index
	if result {
		tmpl = res
	}

	data.Options = s.catalog.Names()
	data.Default = s.catalog.Default()
	data.ServerURL = s.baseURL
	data.Metadata = s.catalog.Metadata(page.SelectedName(data.Options, data.Selected, data.Default))

	body := tmpl.Fill(data)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if _, err := io.WriteString(w, body); err != nil {
		logging.DebugContext(r.Context(), "response_write_failed", "error", err.Error())
	}
}
