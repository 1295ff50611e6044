package cart

import (
	"encoding/json"
	"fmt"

	"cart-svc/models"
)

func finalizedEvent(userID, profileID int, order *models.Order, txn *models.Transaction, productIDs []int64) ([]byte, error) {
	products := make([]int, len(productIDs))
	for i, id := range productIDs {
		products[i] = int(id)
	}

	payload, err := json.Marshal(models.OrderFinalizedEvent{
		OrderID:   order.ID,
		RefCode:   order.RefCode,
		ProfileID: profileID,
		UserID:    userID,
		Token:     txn.Token,
		Amount:    txn.Amount.StringFixed(2),
		Products:  products,
		EventType: models.EventOrderFinalized,
		OrderedAt: txn.Timestamp,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", models.EventOrderFinalized, err)
	}
	return payload, nil
}
