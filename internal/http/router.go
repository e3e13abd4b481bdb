package http

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
)

type RouterConfig struct {
	Courses    *CourseHandler
	Schedules  *ScheduleHandler
	Bookings   *BookingHandler
	Waitlist   *WaitlistHandler
	Payments   *PaymentHandler
	Health     *HealthHandler
	Events     *EventsHandler
	Logger     *slog.Logger
	Middleware []mux.MiddlewareFunc
}

// NewRouter mounts every configured handler under /api. Nil handlers leave
// their routes unregistered.
func NewRouter(cfg RouterConfig) *mux.Router {
	r := mux.NewRouter()
	responder := newResponder(cfg.Logger)
	notFound := http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		responder.writeError(req.Context(), w, http.StatusNotFound, nil)
	})
	methodNotAllowed := http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		responder.writeJSON(req.Context(), w, http.StatusMethodNotAllowed, errorResponse{
			ErrorCode: "METHOD_NOT_ALLOWED",
			Message:   "このメソッドは許可されていません。",
		})
	})
	r.NotFoundHandler = notFound
	r.MethodNotAllowedHandler = methodNotAllowed
	for _, mw := range cfg.Middleware {
		if mw != nil {
			r.Use(mw)
		}
	}

	// Subrouters do not inherit the fallback handlers from their parent.
	api := r.PathPrefix("/api").Subrouter()
	api.NotFoundHandler = notFound
	api.MethodNotAllowedHandler = methodNotAllowed

	if cfg.Health != nil {
		api.HandleFunc("/health", cfg.Health.Health).Methods(http.MethodGet)
	}
	if cfg.Events != nil {
		api.HandleFunc("/ws", cfg.Events.Stream).Methods(http.MethodGet)
	}

	if h := cfg.Courses; h != nil {
		api.HandleFunc("/courses", h.List).Methods(http.MethodGet)
		api.HandleFunc("/courses/{courseID}", h.Upsert).Methods(http.MethodPut)
		api.HandleFunc("/courses/{courseID}", h.Get).Methods(http.MethodGet)
		api.HandleFunc("/courses/{courseID}", h.Remove).Methods(http.MethodDelete)
	}

	if h := cfg.Schedules; h != nil {
		api.HandleFunc("/courses/{courseID}/schedules/validate", h.Validate).Methods(http.MethodPost)
		api.HandleFunc("/courses/{courseID}/schedules", h.Create).Methods(http.MethodPost)
		api.HandleFunc("/courses/{courseID}/schedules", h.List).Methods(http.MethodGet)
		api.HandleFunc("/schedules/{scheduleID}", h.Cancel).Methods(http.MethodDelete)
		api.HandleFunc("/courses/{courseID}/sessions", h.ListSessions).Methods(http.MethodGet)
		api.HandleFunc("/sessions/{sessionID}", h.GetSession).Methods(http.MethodGet)
		api.HandleFunc("/sessions/{sessionID}/cancel", h.CancelSession).Methods(http.MethodPost)
	}

	if h := cfg.Bookings; h != nil {
		api.HandleFunc("/courses/{courseID}/bookings", h.Reserve).Methods(http.MethodPost)
		api.HandleFunc("/courses/{courseID}/bookings", h.ListByCourse).Methods(http.MethodGet)
		api.HandleFunc("/bookings", h.ListByStudent).Methods(http.MethodGet)
		api.HandleFunc("/bookings/{bookingID}", h.Get).Methods(http.MethodGet)
		api.HandleFunc("/bookings/{bookingID}/cancel", h.Cancel).Methods(http.MethodPost)
		api.HandleFunc("/bookings/{bookingID}/checkout", h.Checkout).Methods(http.MethodPost)
	}

	if h := cfg.Waitlist; h != nil {
		api.HandleFunc("/courses/{courseID}/waitlist", h.Join).Methods(http.MethodPost)
		api.HandleFunc("/courses/{courseID}/waitlist", h.List).Methods(http.MethodGet)
		api.HandleFunc("/waitlist/{entryID}", h.Leave).Methods(http.MethodDelete)
	}

	if h := cfg.Payments; h != nil {
		// Callback routes are registered before the id route so they win the match.
		api.HandleFunc("/payments/callbacks/confirmed", h.Confirmed).Methods(http.MethodPost)
		api.HandleFunc("/payments/callbacks/failed", h.Failed).Methods(http.MethodPost)
		api.HandleFunc("/payments/webhook/midtrans", h.Midtrans).Methods(http.MethodPost)
		api.HandleFunc("/payments/{checkoutSessionID}", h.Status).Methods(http.MethodGet)
	}

	return r
}
