package cart

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNoOwner         = errors.New("cart needs a customer or session id")
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
	ErrLineNotFound    = errors.New("product not in cart")
	ErrEmpty           = errors.New("cart is empty")
	ErrStaleSnapshot   = errors.New("cart changed generation since snapshot")
)

// Line is a priced snapshot. UnitPriceUSD is fixed when the product is first added.
type Line struct {
	ProductID    string          `json:"product_id"`
	Name         string          `json:"name"`
	Quantity     int             `json:"quantity"`
	UnitPriceUSD decimal.Decimal `json:"unit_price_usd"`
	AddedAt      time.Time       `json:"added_at"`
}

func (l Line) TotalUSD() decimal.Decimal {
	return l.UnitPriceUSD.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Cart is the owner's current lines. Gen counts clears, so two carts with the same
// lines from before and after a checkout are told apart.
type Cart struct {
	Owner string `json:"owner"`
	Lines []Line `json:"lines"`
	Gen   int64  `json:"gen"`
}

func (c Cart) Empty() bool { return len(c.Lines) == 0 }

func (c Cart) SubtotalUSD() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range c.Lines {
		sum = sum.Add(l.TotalUSD())
	}
	return sum.Round(2)
}

func (c Cart) Units() int {
	n := 0
	for _, l := range c.Lines {
		n += l.Quantity
	}
	return n
}

// Owner keys a cart by customer when known, otherwise by anonymous session.
func Owner(customerID, sessionID string) (string, error) {
	switch {
	case customerID != "":
		return "c:" + customerID, nil
	case sessionID != "":
		return "s:" + sessionID, nil
	}
	return "", ErrNoOwner
}

func addLine(lines []Line, in Line) []Line {
	for i := range lines {
		if lines[i].ProductID == in.ProductID {
			lines[i].Quantity += in.Quantity
			return lines
		}
	}
	return append(lines, in)
}

// subtractLines takes the quantities of taken out of lines. Anything added after
// taken was read stays.
func subtractLines(lines, taken []Line) []Line {
	left := make(map[string]int, len(taken))
	for _, l := range taken {
		left[l.ProductID] += l.Quantity
	}
	out := lines[:0]
	for _, l := range lines {
		l.Quantity -= left[l.ProductID]
		delete(left, l.ProductID)
		if l.Quantity > 0 {
			out = append(out, l)
		}
	}
	return out
}

func removeLine(lines []Line, productID string, qty int) ([]Line, error) {
	for i := range lines {
		if lines[i].ProductID != productID {
			continue
		}
		if qty > 0 && qty < lines[i].Quantity {
			lines[i].Quantity -= qty
			return lines, nil
		}
		return append(lines[:i], lines[i+1:]...), nil
	}
	return lines, ErrLineNotFound
}
