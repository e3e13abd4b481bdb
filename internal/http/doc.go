// Package http exposes the booking engine over JSON under /api.
//
// The router serves the following endpoints:
//   - GET /api/health: store ping and connected event clients.
//   - GET /api/courses, PUT|GET|DELETE /api/courses/{courseID}: course catalog.
//     DELETE soft deletes the course and cancels its scheduled sessions.
//   - POST /api/courses/{courseID}/schedules/validate: conflict report for a
//     recurrence rule without persisting it.
//   - POST|GET /api/courses/{courseID}/schedules, DELETE /api/schedules/{scheduleID}:
//     commit, list and cancel schedules.
//   - GET /api/courses/{courseID}/sessions?status=, GET /api/sessions/{sessionID},
//     POST /api/sessions/{sessionID}/cancel: dated sessions.
//   - POST|GET /api/courses/{courseID}/bookings, GET /api/bookings?student_id=,
//     GET /api/bookings/{bookingID}, POST /api/bookings/{bookingID}/cancel and
//     POST /api/bookings/{bookingID}/checkout: reservations and checkout.
//   - POST|GET /api/courses/{courseID}/waitlist, DELETE /api/waitlist/{entryID}?student_id=:
//     waitlist for full courses. Released seats are offered in queue order.
//   - GET /api/payments/{checkoutSessionID}, POST /api/payments/callbacks/confirmed,
//     POST /api/payments/callbacks/failed, POST /api/payments/webhook/midtrans:
//     payment status and gateway callbacks.
//   - GET /api/ws: websocket feed of booking events.
//
// Errors are returned as {"error_code","message","errors"} with Japanese
// messages. Request and response DTOs live next to their handlers.
package http
