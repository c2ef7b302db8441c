package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/printy-garments/api/internal/platform/textutil"
	"github.com/printy-garments/api/internal/services"
)

// PubSubEventPublisher publishes quotation and order lifecycle events to
// Pub/Sub topics. Downstream consumers drive WhatsApp notifications and
// reporting from these messages.
type PubSubEventPublisher struct {
	quotations *pubsub.Topic
	orders     *pubsub.Topic
	marshal    func(any) ([]byte, error)
}

// NewPubSubEventPublisher constructs a Pub/Sub backed event publisher.
// Either topic may be nil when that event family is not consumed in the
// current environment.
func NewPubSubEventPublisher(quotations, orders *pubsub.Topic) (*PubSubEventPublisher, error) {
	if quotations == nil && orders == nil {
		return nil, errors.New("pubsub event publisher: at least one topic is required")
	}
	return &PubSubEventPublisher{
		quotations: quotations,
		orders:     orders,
		marshal:    json.Marshal,
	}, nil
}

// PublishQuotationEvent enqueues a quotation lifecycle event.
func (p *PubSubEventPublisher) PublishQuotationEvent(ctx context.Context, event services.QuotationEvent) error {
	if p == nil || p.quotations == nil {
		return errors.New("pubsub event publisher: quotation topic not configured")
	}

	data, err := p.marshal(event)
	if err != nil {
		return fmt.Errorf("marshal quotation event: %w", err)
	}

	attrs := textutil.NormalizeStringMap(map[string]string{
		"eventType":   event.Type,
		"quotationId": event.QuotationID,
		"clientId":    event.ClientID,
		"status":      string(event.Status),
	})

	result := p.quotations.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish quotation event: %w", err)
	}
	return nil
}

// PublishOrderEvent enqueues an order lifecycle event.
func (p *PubSubEventPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	if p == nil || p.orders == nil {
		return errors.New("pubsub event publisher: order topic not configured")
	}

	data, err := p.marshal(event)
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}

	attrs := textutil.NormalizeStringMap(map[string]string{
		"eventType": event.Type,
		"orderId":   event.OrderID,
		"clientId":  event.ClientID,
		"status":    string(event.Status),
	})

	result := p.orders.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish order event: %w", err)
	}
	return nil
}
