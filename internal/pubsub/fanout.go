package pubsub

import (
	"context"
	"errors"

	"github.com/mmeshcher/restaurant-orders/internal/notify"
)

// Fanout публикует событие во все каналы по очереди. Ошибка одного канала не мешает остальным.
type Fanout []notify.Publisher

// Publish реализует notify.Publisher.
func (f Fanout) Publish(ctx context.Context, topic string, payload []byte) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, topic, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
