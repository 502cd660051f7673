package textx

import "testing"

func TestFold(t *testing.T) {
	cases := map[string]string{
		"  Dirección   Nueva ": "direccion nueva",
		"PAGO MÓVIL":           "pago movil",
		"cuánto cuesta":        "cuanto cuesta",
		"Añadir":               "anadir",
	}
	for in, want := range cases {
		if got := Fold(in); got != want {
			t.Errorf("Fold(%q) = %q, want %q", in, got, want)
		}
	}
}
