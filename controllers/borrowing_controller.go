package controllers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"fintracker/middleware"
	"fintracker/models"
	"fintracker/services"
	"fintracker/utils"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

// BorrowingController обрабатывает запросы, связанные с долгами
type BorrowingController struct {
	borrowings *services.BorrowingService
	exporter   *services.ExportService
}

// NewBorrowingController создает новый экземпляр BorrowingController
func NewBorrowingController(borrowings *services.BorrowingService, exporter *services.ExportService) *BorrowingController {
	return &BorrowingController{
		borrowings: borrowings,
		exporter:   exporter,
	}
}

// RegisterRoutes регистрирует маршруты на защищенном роутере /api
func (c *BorrowingController) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/borrowings", c.CreateBorrowing).Methods("POST")
	r.HandleFunc("/borrowings", c.GetBorrowings).Methods("GET")
	r.HandleFunc("/borrowings/summary", c.GetSummary).Methods("GET")
	r.HandleFunc("/borrowings/export.xml", c.ExportBorrowings).Methods("GET")
	r.HandleFunc("/borrowings/{id}", c.GetBorrowing).Methods("GET")
	r.HandleFunc("/borrowings/{id}", c.PatchBorrowing).Methods("PATCH")
	r.HandleFunc("/borrowings/{id}", c.DeleteBorrowing).Methods("DELETE")
	r.HandleFunc("/borrowings/{id}/pay", c.PayBorrowing).Methods("POST")
	r.HandleFunc("/borrowings/{id}/due-date", c.UpdateDueDate).Methods("PUT")
	r.HandleFunc("/borrowings/{id}/status", c.UpdateStatus).Methods("PUT")
}

type createBorrowingRequest struct {
	Type         models.Direction         `json:"type"`
	Counterparty services.CounterpartyDTO `json:"counterparty"`
	Amount       *decimal.Decimal         `json:"amount"`
	DueDate      *dateValue               `json:"dueDate"`
	Notes        string                   `json:"notes"`
	Reminder     *services.ReminderDTO    `json:"reminder"`
}

type paymentRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type statusRequest struct {
	Status models.BorrowingStatus `json:"status"`
}

type reminderResponse struct {
	Enabled    bool `json:"enabled"`
	DaysBefore int  `json:"daysBefore"`
}

// borrowingResponse - запись вместе с производными полями на момент запроса
type borrowingResponse struct {
	ID              string                   `json:"id"`
	Type            models.Direction         `json:"type"`
	Counterparty    services.CounterpartyDTO `json:"counterparty"`
	Amount          decimal.Decimal          `json:"amount"`
	Remaining       decimal.Decimal          `json:"remaining"`
	DueDate         *time.Time               `json:"dueDate"`
	Notes           string                   `json:"notes"`
	Reminder        reminderResponse         `json:"reminder"`
	Status          models.BorrowingStatus   `json:"status"`
	IsOverdue       bool                     `json:"isOverdue"`
	OverdueDays     int                      `json:"overdueDays"`
	OverdueSeverity models.OverdueSeverity   `json:"overdueSeverity"`
	ReminderDue     bool                     `json:"reminderDue"`
	CreatedAt       time.Time                `json:"createdAt"`
	UpdatedAt       time.Time                `json:"updatedAt"`
}

type errorResponse struct {
	Error  string                `json:"error"`
	Fields []services.FieldError `json:"fields,omitempty"`
}

func toResponse(b *models.Borrowing, now time.Time) borrowingResponse {
	return borrowingResponse{
		ID:   b.ID,
		Type: b.Direction,
		Counterparty: services.CounterpartyDTO{
			Name:    b.CounterpartyName,
			Contact: b.CounterpartyContact,
		},
		Amount:          b.Principal,
		Remaining:       b.Remaining,
		DueDate:         b.DueDate,
		Notes:           b.Notes,
		Reminder:        reminderResponse{Enabled: b.ReminderEnabled, DaysBefore: b.ReminderDaysBefore},
		Status:          b.Status,
		IsOverdue:       services.IsOverdue(b, now),
		OverdueDays:     services.OverdueDays(b, now),
		OverdueSeverity: services.OverdueSeverity(b, now),
		ReminderDue:     services.IsReminderDue(b, now),
		CreatedAt:       b.CreatedAt,
		UpdatedAt:       b.UpdatedAt,
	}
}

// CreateBorrowing обрабатывает запрос на создание записи о долге
func (c *BorrowingController) CreateBorrowing(w http.ResponseWriter, r *http.Request) {
	userID, email, ok := c.owner(w, r)
	if !ok {
		return
	}

	var req createBorrowingRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if req.Amount == nil {
		respondError(w, fieldError("amount", "поле amount обязательно"))
		return
	}

	dto := services.CreateBorrowingDTO{
		OwnerID:      userID,
		OwnerEmail:   email,
		Direction:    req.Type,
		Counterparty: req.Counterparty,
		Amount:       *req.Amount,
		DueDate:      req.DueDate.timePtr(),
		Notes:        req.Notes,
		Reminder:     req.Reminder,
	}

	b, err := c.borrowings.Create(r.Context(), dto)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, toResponse(b, c.borrowings.Now()))
}

// GetBorrowings возвращает записи пользователя, новые первыми
func (c *BorrowingController) GetBorrowings(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := c.owner(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	opts := services.ListOptions{Filter: services.ListFilter(query.Get("filter"))}
	var err error
	if opts.Page, err = queryInt(query.Get("page"), "page"); err != nil {
		respondError(w, err)
		return
	}
	if opts.PageSize, err = queryInt(query.Get("pageSize"), "pageSize"); err != nil {
		respondError(w, err)
		return
	}

	records, err := c.borrowings.List(r.Context(), userID, opts)
	if err != nil {
		respondError(w, err)
		return
	}

	now := c.borrowings.Now()
	out := make([]borrowingResponse, 0, len(records))
	for i := range records {
		out = append(out, toResponse(&records[i], now))
	}
	respondJSON(w, http.StatusOK, out)
}

// GetBorrowing возвращает одну запись
func (c *BorrowingController) GetBorrowing(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := c.owner(w, r)
	if !ok {
		return
	}

	b, err := c.borrowings.Get(r.Context(), userID, mux.Vars(r)["id"])
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toResponse(b, c.borrowings.Now()))
}

// GetSummary возвращает сводку по долгам пользователя
func (c *BorrowingController) GetSummary(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := c.owner(w, r)
	if !ok {
		return
	}

	summary, err := c.borrowings.Summary(r.Context(), userID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

// ExportBorrowings отдает все записи пользователя в XML
func (c *BorrowingController) ExportBorrowings(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := c.owner(w, r)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := c.exporter.Export(r.Context(), userID, &buf); err != nil {
		respondError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="borrowings.xml"`)
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// PayBorrowing вносит платеж по записи
func (c *BorrowingController) PayBorrowing(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := c.owner(w, r)
	if !ok {
		return
	}

	var req paymentRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}

	b, err := c.borrowings.ApplyPayment(r.Context(), userID, mux.Vars(r)["id"], req.Amount)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toResponse(b, c.borrowings.Now()))
}

// UpdateDueDate меняет или убирает (null) срок возврата
func (c *BorrowingController) UpdateDueDate(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := c.owner(w, r)
	if !ok {
		return
	}

	var body map[string]json.RawMessage
	if err := decodeBody(r, &body); err != nil {
		respondError(w, err)
		return
	}
	raw, present := body["dueDate"]
	if !present {
		respondError(w, fieldError("dueDate", "поле dueDate обязательно (null убирает срок)"))
		return
	}
	dueDate, err := parseDueDate(raw)
	if err != nil {
		respondError(w, err)
		return
	}

	b, err := c.borrowings.UpdateDueDate(r.Context(), userID, mux.Vars(r)["id"], dueDate)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toResponse(b, c.borrowings.Now()))
}

// UpdateStatus выставляет статус вручную
func (c *BorrowingController) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := c.owner(w, r)
	if !ok {
		return
	}

	var req statusRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}

	b, err := c.borrowings.SetStatus(r.Context(), userID, mux.Vars(r)["id"], req.Status)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toResponse(b, c.borrowings.Now()))
}

// PatchBorrowing - совместимый с веб-клиентом вариант обновления: ключи payment,
// dueDate и status применяются по очереди. Каждый шаг атомарен сам по себе.
func (c *BorrowingController) PatchBorrowing(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := c.owner(w, r)
	if !ok {
		return
	}

	var body map[string]json.RawMessage
	if err := decodeBody(r, &body); err != nil {
		respondError(w, err)
		return
	}

	id := mux.Vars(r)["id"]
	ctx := r.Context()
	var b *models.Borrowing

	rawPayment, hasPayment := body["payment"]
	rawDue, hasDue := body["dueDate"]
	rawStatus, hasStatus := body["status"]
	if !hasPayment && !hasDue && !hasStatus {
		respondError(w, fieldError("payment", "нужно передать payment, dueDate или status"))
		return
	}

	// Разбираем все поля до первого изменения, чтобы ошибка формата ничего не меняла
	var payment decimal.Decimal
	if hasPayment {
		if err := json.Unmarshal(rawPayment, &payment); err != nil {
			respondError(w, fieldError("payment", "поле payment должно быть числом"))
			return
		}
	}
	var dueDate *time.Time
	if hasDue {
		var err error
		if dueDate, err = parseDueDate(rawDue); err != nil {
			respondError(w, err)
			return
		}
	}
	var status models.BorrowingStatus
	if hasStatus {
		if err := json.Unmarshal(rawStatus, &status); err != nil || !status.Valid() {
			respondError(w, fieldError("status", "поле status должно быть одним из: pending partial paid"))
			return
		}
	}

	var err error
	if hasPayment {
		if b, err = c.borrowings.ApplyPayment(ctx, userID, id, payment); err != nil {
			respondError(w, err)
			return
		}
	}
	if hasDue {
		if b, err = c.borrowings.UpdateDueDate(ctx, userID, id, dueDate); err != nil {
			respondError(w, err)
			return
		}
	}
	// при платеже статус считается по остатку, переданный status игнорируется
	if hasStatus && !hasPayment {
		if b, err = c.borrowings.SetStatus(ctx, userID, id, status); err != nil {
			respondError(w, err)
			return
		}
	}

	respondJSON(w, http.StatusOK, toResponse(b, c.borrowings.Now()))
}

// DeleteBorrowing удаляет запись
func (c *BorrowingController) DeleteBorrowing(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := c.owner(w, r)
	if !ok {
		return
	}

	if err := c.borrowings.Delete(r.Context(), userID, mux.Vars(r)["id"]); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Запись удалена"})
}

func (c *BorrowingController) owner(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	userID, email, err := middleware.GetUserFromContext(r)
	if err != nil {
		respondJSON(w, http.StatusUnauthorized, errorResponse{Error: "Unauthorized"})
		return "", "", false
	}
	return userID, email, true
}

// dateValue принимает дату в RFC3339 или в виде 2006-01-02 (полночь UTC)
type dateValue time.Time

func (d *dateValue) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fieldError("dueDate", "поле dueDate должно быть строкой с датой")
	}
	t, err := parseDate(s)
	if err != nil {
		return err
	}
	*d = dateValue(t)
	return nil
}

func (d *dateValue) timePtr() *time.Time {
	if d == nil {
		return nil
	}
	t := time.Time(*d)
	return &t
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Time{}, fieldError("dueDate", fmt.Sprintf("некорректная дата %q, ожидается 2006-01-02 или RFC3339", s))
}

// parseDueDate разбирает значение dueDate; null означает "без срока"
func parseDueDate(raw json.RawMessage) (*time.Time, error) {
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, nil
	}
	var d dateValue
	if err := json.Unmarshal(raw, &d); err != nil {
		var verr *services.ValidationError
		if errors.As(err, &verr) {
			return nil, verr
		}
		return nil, fieldError("dueDate", "некорректная дата")
	}
	return d.timePtr(), nil
}

func queryInt(value, field string) (int, error) {
	if value == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fieldError(field, "параметр "+field+" должен быть целым числом")
	}
	return n, nil
}

func fieldError(field, message string) error {
	return &services.ValidationError{Fields: []services.FieldError{{Field: field, Message: message}}}
}

// errBadBody - тело запроса не разбирается как JSON
var errBadBody = errors.New("Invalid request body")

func decodeBody(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var verr *services.ValidationError
		if errors.As(err, &verr) {
			return verr
		}
		return errBadBody
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		utils.LogError("Ошибка при записи ответа: %v", err)
	}
}

// respondError переводит ошибку сервиса в HTTP-ответ. Текст неизвестных ошибок
// уходит только в лог.
func respondError(w http.ResponseWriter, err error) {
	var verr *services.ValidationError
	switch {
	case errors.Is(err, errBadBody):
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.As(err, &verr):
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: verr.Error(), Fields: verr.Fields})
	case errors.Is(err, services.ErrValidation):
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, services.ErrNotFound):
		respondJSON(w, http.StatusNotFound, errorResponse{Error: services.ErrNotFound.Error()})
	case errors.Is(err, services.ErrConcurrentUpdate):
		respondJSON(w, http.StatusConflict, errorResponse{Error: services.ErrConcurrentUpdate.Error()})
	default:
		utils.LogError("Внутренняя ошибка: %v", err)
		respondJSON(w, http.StatusInternalServerError, errorResponse{Error: "Internal server error"})
	}
}
