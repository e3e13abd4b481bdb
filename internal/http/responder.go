package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/example/training-booking/internal/application"
)

var (
	errBadRequestBody   = errors.New("無効なリクエスト形式です。")
	errInvalidCourseID  = errors.New("無効なコース ID です。")
	errInvalidBookingID = errors.New("無効な予約 ID です。")
	errMissingStudentID = errors.New("student_id を指定してください。")
	errInvalidSignature = errors.New("通知の署名が不正です。")
	errWebhookDisabled  = errors.New("この決済プロバイダーの通知は受け付けていません。")
)

// Stable error codes surfaced as error_code.
const (
	codeValidation        = "VALIDATION_FAILED"
	codeInvalidRule       = "INVALID_RULE"
	codeCourseNotFound    = "COURSE_NOT_FOUND"
	codeNotFound          = "NOT_FOUND"
	codeUnknownCheckout   = "UNKNOWN_CHECKOUT_SESSION"
	codeSessionFull       = "SESSION_FULL"
	codeNotScheduled      = "SESSION_NOT_SCHEDULED"
	codeInvalidTransition = "INVALID_TRANSITION"
	codeScheduleConflict  = "SCHEDULE_CONFLICT"
	codeAlreadyExists     = "ALREADY_EXISTS"
	codeGateway           = "PAYMENT_GATEWAY_ERROR"
	codeStoreUnavailable  = "STORE_UNAVAILABLE"
	codeInternal          = "INTERNAL_ERROR"
)

type responder struct {
	logger *slog.Logger
}

func newResponder(logger *slog.Logger) responder {
	if logger == nil {
		logger = slog.Default()
	}
	return responder{logger: logger}
}

func (r responder) writeJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	if w == nil {
		return
	}

	if status == http.StatusNoContent || payload == nil {
		w.WriteHeader(status)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		r.loggerFor(ctx).ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (r responder) writeError(ctx context.Context, w http.ResponseWriter, status int, err error) {
	message := localizedStatusMessage(status)
	if err != nil {
		if msg := strings.TrimSpace(err.Error()); msg != "" {
			message = msg
		}
		r.loggerFor(ctx).WarnContext(ctx, "request rejected", "status", status, "error", err)
	}

	r.writeJSON(ctx, w, status, errorResponse{ErrorCode: codeForStatus(status), Message: message})
}

func (r responder) handleServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		r.writeError(ctx, w, http.StatusInternalServerError, errors.New("unknown error"))
		return
	}

	status, body := errorBody(err)
	logger := r.loggerFor(ctx)
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(ctx, "request failed", "status", status, "error", err, "error_kind", application.ErrorKind(err))
	} else {
		logger.InfoContext(ctx, "request refused", "status", status, "error", err, "error_kind", application.ErrorKind(err))
	}
	r.writeJSON(ctx, w, status, body)
}

// errorBody maps the engine's error taxonomy onto a status and payload.
func errorBody(err error) (int, errorResponse) {
	var (
		vErr        *application.ValidationError
		ruleErr     *application.InvalidRuleError
		fullErr     *application.SessionFullError
		notSchedErr *application.SessionNotScheduledError
		conflictErr *application.ScheduleConflictError
	)

	switch {
	case errors.As(err, &vErr):
		return http.StatusUnprocessableEntity, errorResponse{
			ErrorCode: codeValidation,
			Message:   "入力内容に誤りがあります。",
			Errors:    localizeValidationErrors(vErr),
		}
	case errors.As(err, &ruleErr):
		return http.StatusUnprocessableEntity, errorResponse{
			ErrorCode: codeInvalidRule,
			Message:   "繰り返しルールが不正です。",
			Errors:    map[string]string{ruleErr.Field: translateRuleField(ruleErr.Field)},
		}
	case errors.Is(err, application.ErrCourseNotFound):
		return http.StatusNotFound, errorResponse{ErrorCode: codeCourseNotFound, Message: "指定されたコースが見つかりません。"}
	case errors.Is(err, application.ErrUnknownCheckoutSession):
		return http.StatusNotFound, errorResponse{ErrorCode: codeUnknownCheckout, Message: "指定された決済セッションが見つかりません。"}
	case errors.Is(err, application.ErrNotFound):
		return http.StatusNotFound, errorResponse{ErrorCode: codeNotFound, Message: "指定されたリソースが見つかりません。"}
	case errors.As(err, &fullErr):
		return http.StatusConflict, errorResponse{
			ErrorCode: codeSessionFull,
			Message:   "選択されたセッションは満席です。",
			SessionID: fullErr.SessionID,
		}
	case errors.As(err, &notSchedErr):
		return http.StatusConflict, errorResponse{
			ErrorCode: codeNotScheduled,
			Message:   "選択されたセッションは受付を終了しています。",
			SessionID: notSchedErr.SessionID,
		}
	case errors.Is(err, application.ErrInvalidTransition):
		return http.StatusConflict, errorResponse{ErrorCode: codeInvalidTransition, Message: "現在の予約状態ではこの操作を実行できません。"}
	case errors.As(err, &conflictErr):
		report := toConflictReportDTO(conflictErr.Report)
		return http.StatusConflict, errorResponse{
			ErrorCode: codeScheduleConflict,
			Message:   "既存のセッションと時間が重複しています。",
			Conflicts: &report,
		}
	case errors.Is(err, application.ErrAlreadyExists):
		return http.StatusConflict, errorResponse{ErrorCode: codeAlreadyExists, Message: "同じリソースが既に存在します。"}
	case errors.Is(err, application.ErrGateway):
		return http.StatusBadGateway, errorResponse{ErrorCode: codeGateway, Message: "決済サービスとの通信に失敗しました。"}
	case errors.Is(err, application.ErrTransientStore):
		return http.StatusServiceUnavailable, errorResponse{ErrorCode: codeStoreUnavailable, Message: "一時的に処理できません。しばらくしてから再度お試しください。"}
	default:
		return http.StatusInternalServerError, errorResponse{ErrorCode: codeInternal, Message: "サーバー内部でエラーが発生しました。"}
	}
}

func (r responder) loggerFor(ctx context.Context) *slog.Logger {
	if logger := LoggerFromContext(ctx); logger != nil {
		return logger
	}
	return r.logger
}

func localizedStatusMessage(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "リクエスト内容が正しくありません。"
	case http.StatusUnauthorized:
		return "認証が必要です。"
	case http.StatusNotFound:
		return "指定されたリソースが見つかりません。"
	case http.StatusConflict:
		return "要求はリソースの現在の状態と競合しています。"
	case http.StatusUnprocessableEntity:
		return "入力内容に誤りがあります。"
	case http.StatusServiceUnavailable:
		return "一時的に処理できません。しばらくしてから再度お試しください。"
	default:
		return "サーバー内部でエラーが発生しました。"
	}
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "BAD_REQUEST"
	case http.StatusUnauthorized:
		return "UNAUTHORIZED"
	case http.StatusNotFound:
		return codeNotFound
	case http.StatusConflict:
		return "CONFLICT"
	case http.StatusUnprocessableEntity:
		return codeValidation
	case http.StatusServiceUnavailable:
		return codeStoreUnavailable
	default:
		return codeInternal
	}
}

func localizeValidationErrors(vErr *application.ValidationError) map[string]string {
	if vErr == nil || len(vErr.FieldErrors) == 0 {
		return nil
	}

	translated := make(map[string]string, len(vErr.FieldErrors))
	for field, msg := range vErr.FieldErrors {
		translated[field] = translateValidationMessage(msg)
	}
	return translated
}

func translateValidationMessage(message string) string {
	switch message {
	case "course id is required":
		return "コース ID は必須です。"
	case "title is required":
		return "タイトルは必須です。"
	case "location is required":
		return "会場は必須です。"
	case "instructor is required":
		return "講師は必須です。"
	case "capacity must not be negative":
		return "定員は 0 以上で指定してください。"
	case "location capacity must not be negative":
		return "会場の収容人数は 0 以上で指定してください。"
	case "price must not be negative":
		return "料金は 0 以上で指定してください。"
	case "at least one session is required":
		return "少なくとも 1 つのセッションを選択してください。"
	case "student name is required":
		return "受講者名は必須です。"
	case "student email is required":
		return "メールアドレスは必須です。"
	case "student email is invalid":
		return "メールアドレスの形式が不正です。"
	case "course_id or student_id is required":
		return "course_id または student_id を指定してください。"
	case "booking has nothing to pay":
		return "お支払いが必要な金額がありません。"
	case "checkout session id is required":
		return "決済セッション ID は必須です。"
	case "amount must not be negative":
		return "金額は 0 以上で指定してください。"
	case "status must be one of scheduled, cancelled, completed":
		return "status は scheduled, cancelled, completed のいずれかを指定してください。"
	case "violates a storage constraint":
		return "保存時の制約に違反しています。"
	default:
		if strings.HasPrefix(message, "session ") && strings.Contains(message, "does not belong to course") {
			return "選択されたセッションはこのコースに属していません: " + strings.Fields(message)[1]
		}
		return message
	}
}

func translateRuleField(field string) string {
	switch field {
	case "kind":
		return "繰り返し種別は once, daily, weekly, custom のいずれかを指定してください。"
	case "start_date":
		return "開始日は YYYY-MM-DD 形式で指定してください。"
	case "end_date":
		return "終了日は開始日以降の YYYY-MM-DD 形式で指定してください。"
	case "start_time", "end_time":
		return "時刻は HH:MM 形式で、開始時刻は終了時刻より前である必要があります。"
	case "weekdays":
		return "曜日は 1 (月) から 7 (日) の範囲で 1 つ以上指定してください。"
	case "interval":
		return "間隔は 1 以上の日数で指定してください。"
	case "occurrences":
		return "生成されるセッション数が上限を超えています。"
	default:
		return "値が不正です。"
	}
}

type errorResponse struct {
	ErrorCode string             `json:"error_code,omitempty"`
	Message   string             `json:"message"`
	Errors    map[string]string  `json:"errors,omitempty"`
	SessionID string             `json:"session_id,omitempty"`
	Conflicts *conflictReportDTO `json:"conflicts,omitempty"`
}
