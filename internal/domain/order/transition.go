package order

import "github.com/xenking/secondhand-market/internal/domain/product"

var allowedTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusShipping:  true,
		StatusCompleted: true,
		StatusCancelled: true,
	},
	StatusShipping: {
		StatusCompleted: true,
		StatusCancelled: true,
	},
	StatusCompleted: {},
	StatusCancelled: {},
}

// CanTransition reports whether an order may move from one status to another.
func CanTransition(from, to Status) bool {
	return allowedTransitions[from][to]
}

// productEffect describes what entering a status does to line products:
// every product currently in status from is moved to status to.
type productEffect struct {
	from, to product.Status
}

var transitionEffects = map[Status]productEffect{
	StatusCompleted: {from: product.StatusAvailable, to: product.StatusSold},
	StatusCancelled: {from: product.StatusSold, to: product.StatusAvailable},
}

// affected returns the ids among products that entering status must change,
// and the status they change to.
func affected(status Status, products []product.Product) ([]int64, product.Status) {
	eff, ok := transitionEffects[status]
	if !ok {
		return nil, ""
	}
	var ids []int64
	for _, p := range products {
		if p.Status == eff.from {
			ids = append(ids, p.ID)
		}
	}
	return ids, eff.to
}
