package httpx

import (
	"net/http"
	"testing"
)

func TestStatusForCode(t *testing.T) {
	cases := []struct {
		code string
		want int
	}{
		{code: "User.EmailAlreadyExists", want: http.StatusConflict},
		{code: "User.NotFound", want: http.StatusNotFound},
		{code: "User.Validation", want: http.StatusBadRequest},
		{code: "Auth.InvalidCredentials", want: http.StatusUnauthorized},
		{code: "Auth.InvalidToken", want: http.StatusUnauthorized},
		{code: "Task.NotFound", want: http.StatusNotFound},
		{code: "Task.NotOwned", want: http.StatusForbidden},
		{code: "Task.Validation", want: http.StatusBadRequest},
		{code: "Request.Cancelled", want: statusClientClosedRequest},
		// Codes outside the catalogue fall back to shape heuristics.
		{code: "Widget.NotFound", want: http.StatusNotFound},
		{code: "Widget.NotOwned", want: http.StatusForbidden},
		{code: "Widget.NameAlreadyExists", want: http.StatusConflict},
		{code: "Widget.Validation", want: http.StatusBadRequest},
		{code: "Auth.SomethingElse", want: http.StatusUnauthorized},
		{code: "Totally.Unknown", want: http.StatusInternalServerError},
		{code: "", want: http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusForCode(tc.code); got != tc.want {
			t.Errorf("statusForCode(%q) = %d, want %d", tc.code, got, tc.want)
		}
	}
}
