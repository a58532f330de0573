package models

import (
	"testing"
	"time"
)

func TestResolveState(t *testing.T) {
	now := time.Now()
	pendiente := EstadoPendiente
	enProceso := EstadoEnProceso
	cerrada := EstadoCerrada
	invalid := 99

	testCases := []struct {
		name            string
		estado          *int
		fechaCompletada *time.Time
		expected        string
	}{
		{
			name:     "pending case, open derivation",
			estado:   &pendiente,
			expected: EstadoNombrePendiente,
		},
		{
			name:     "in-progress case, open derivation",
			estado:   &enProceso,
			expected: EstadoNombreEnProceso,
		},
		{
			name:     "closed case, open derivation",
			estado:   &cerrada,
			expected: EstadoNombreCerrada,
		},
		{
			name:     "nil status, open derivation",
			estado:   nil,
			expected: EstadoNombreDesconocido,
		},
		{
			name:     "invalid status code",
			estado:   &invalid,
			expected: EstadoNombreDesconocido,
		},
		{
			name:            "completed derivation overrides pending",
			estado:          &pendiente,
			fechaCompletada: &now,
			expected:        EstadoNombreCerrada,
		},
		{
			name:            "completed derivation overrides in-progress",
			estado:          &enProceso,
			fechaCompletada: &now,
			expected:        EstadoNombreCerrada,
		},
		{
			name:            "completed derivation overrides nil status",
			estado:          nil,
			fechaCompletada: &now,
			expected:        EstadoNombreCerrada,
		},
		{
			name:            "completed derivation overrides invalid status",
			estado:          &invalid,
			fechaCompletada: &now,
			expected:        EstadoNombreCerrada,
		},
	}

	for _, tc := range testCases {
		if got := ResolveState(tc.estado, tc.fechaCompletada); got != tc.expected {
			t.Errorf("%s: ResolveState = %q, want %q", tc.name, got, tc.expected)
		}
	}
}
