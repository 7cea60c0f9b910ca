package mongo

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/xenking/smartpick/internal/domain/order"
)

// OrdersCollection is the collection orders are stored in.
const OrdersCollection = "orders"

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository on a MongoDB collection. Money
// is stored as Decimal128.
type OrderRepository struct {
	collection *mongo.Collection
}

// NewOrderRepository returns an OrderRepository on the orders collection of
// db.
func NewOrderRepository(db *mongo.Database) *OrderRepository {
	return &OrderRepository{collection: db.Collection(OrdersCollection)}
}

// CreateIndexes creates the index used by ListByUser.
func (r *OrderRepository) CreateIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "order_date", Value: -1}},
		Options: options.Index().SetName("user_id_order_date"),
	})
	if err != nil {
		return errors.Wrap(err, "create orders index")
	}
	return nil
}

// Create persists a new order.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	doc, err := newOrderDocument(o)
	if err != nil {
		return err
	}
	if _, err := r.collection.InsertOne(ctx, doc); err != nil {
		return errors.Wrapf(err, "insert order %q", o.ID)
	}
	return nil
}

// Get returns the order with the given id.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	var doc orderDocument
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, order.ErrNotFound
		}
		return nil, errors.Wrapf(err, "find order %q", id)
	}
	return doc.toOrder()
}

// ListByUser returns the orders of userID, most recent first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]order.Order, error) {
	opts := options.Find().SetSort(bson.D{{Key: "order_date", Value: -1}, {Key: "_id", Value: -1}})
	cur, err := r.collection.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, errors.Wrap(err, "find orders")
	}
	defer func() { _ = cur.Close(ctx) }()

	var out []order.Order
	for cur.Next(ctx) {
		var doc orderDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, errors.Wrap(err, "decode order")
		}
		o, err := doc.toOrder()
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	if err := cur.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate orders")
	}
	return out, nil
}

// UpdateStatus moves order id from status from to status to. The status
// filter makes the update a compare-and-set.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, from, to order.Status, patch order.StatusPatch) error {
	set := bson.M{
		"status":     string(to),
		"updated_at": patch.UpdatedAt,
	}
	if patch.TrackingID != "" {
		set["tracking_id"] = patch.TrackingID
	}
	if patch.DeliveredAt != nil {
		set["delivered_at"] = *patch.DeliveredAt
	}

	res, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id, "status": string(from)},
		bson.M{"$set": set},
	)
	if err != nil {
		return errors.Wrapf(err, "update order %q status", id)
	}
	if res.MatchedCount == 1 {
		return nil
	}

	n, err := r.collection.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return errors.Wrapf(err, "check order %q", id)
	}
	if n == 0 {
		return order.ErrNotFound
	}
	return order.ErrStatusConflict
}

type itemDocument struct {
	ProductID string               `bson:"product_id"`
	Name      string               `bson:"name"`
	Brand     string               `bson:"brand"`
	Quantity  int                  `bson:"quantity"`
	UnitPrice primitive.Decimal128 `bson:"unit_price"`
}

type addressDocument struct {
	Name    string `bson:"name"`
	Street  string `bson:"street"`
	City    string `bson:"city"`
	State   string `bson:"state"`
	Pincode string `bson:"pincode"`
	Phone   string `bson:"phone"`
	Email   string `bson:"email"`
}

type summaryDocument struct {
	Subtotal primitive.Decimal128 `bson:"subtotal"`
	Shipping primitive.Decimal128 `bson:"shipping"`
	Tax      primitive.Decimal128 `bson:"tax"`
	Total    primitive.Decimal128 `bson:"total"`
}

type orderDocument struct {
	ID                string          `bson:"_id"`
	UserID            string          `bson:"user_id"`
	Items             []itemDocument  `bson:"items"`
	ShippingAddress   addressDocument `bson:"shipping_address"`
	PaymentMethod     string          `bson:"payment_method"`
	Summary           summaryDocument `bson:"order_summary"`
	Status            string          `bson:"status"`
	TrackingID        string          `bson:"tracking_id,omitempty"`
	OrderDate         time.Time       `bson:"order_date"`
	EstimatedDelivery time.Time       `bson:"estimated_delivery"`
	DeliveredAt       *time.Time      `bson:"delivered_at,omitempty"`
	UpdatedAt         time.Time       `bson:"updated_at"`
}

func newOrderDocument(o *order.Order) (*orderDocument, error) {
	doc := &orderDocument{
		ID:                o.ID,
		UserID:            o.UserID,
		Items:             make([]itemDocument, len(o.Items)),
		ShippingAddress:   addressDocument(o.ShippingAddress),
		PaymentMethod:     string(o.PaymentMethod),
		Status:            string(o.Status),
		TrackingID:        o.TrackingID,
		OrderDate:         o.OrderDate,
		EstimatedDelivery: o.EstimatedDelivery,
		DeliveredAt:       o.DeliveredAt,
		UpdatedAt:         o.UpdatedAt,
	}
	var err error
	for i, item := range o.Items {
		doc.Items[i] = itemDocument{
			ProductID: item.ProductID,
			Name:      item.Name,
			Brand:     item.Brand,
			Quantity:  item.Quantity,
		}
		if doc.Items[i].UnitPrice, err = toDecimal128(item.UnitPrice); err != nil {
			return nil, err
		}
	}
	s := o.Summary
	for _, f := range []struct {
		dst *primitive.Decimal128
		src decimal.Decimal
	}{
		{&doc.Summary.Subtotal, s.Subtotal},
		{&doc.Summary.Shipping, s.Shipping},
		{&doc.Summary.Tax, s.Tax},
		{&doc.Summary.Total, s.Total},
	} {
		if *f.dst, err = toDecimal128(f.src); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

func (d *orderDocument) toOrder() (*order.Order, error) {
	o := &order.Order{
		ID:                d.ID,
		UserID:            d.UserID,
		Items:             make([]order.Item, len(d.Items)),
		ShippingAddress:   order.ShippingAddress(d.ShippingAddress),
		PaymentMethod:     order.PaymentMethod(d.PaymentMethod),
		Status:            order.Status(d.Status),
		TrackingID:        d.TrackingID,
		OrderDate:         d.OrderDate.UTC(),
		EstimatedDelivery: d.EstimatedDelivery.UTC(),
		UpdatedAt:         d.UpdatedAt.UTC(),
	}
	if d.DeliveredAt != nil {
		t := d.DeliveredAt.UTC()
		o.DeliveredAt = &t
	}
	var err error
	for i, item := range d.Items {
		o.Items[i] = order.Item{
			ProductID: item.ProductID,
			Name:      item.Name,
			Brand:     item.Brand,
			Quantity:  item.Quantity,
		}
		if o.Items[i].UnitPrice, err = fromDecimal128(item.UnitPrice); err != nil {
			return nil, errors.Wrapf(err, "order %q item %q", d.ID, item.ProductID)
		}
	}
	for _, f := range []struct {
		dst *decimal.Decimal
		src primitive.Decimal128
	}{
		{&o.Summary.Subtotal, d.Summary.Subtotal},
		{&o.Summary.Shipping, d.Summary.Shipping},
		{&o.Summary.Tax, d.Summary.Tax},
		{&o.Summary.Total, d.Summary.Total},
	} {
		if *f.dst, err = fromDecimal128(f.src); err != nil {
			return nil, errors.Wrapf(err, "order %q summary", d.ID)
		}
	}
	return o, nil
}

func toDecimal128(d decimal.Decimal) (primitive.Decimal128, error) {
	v, err := primitive.ParseDecimal128(d.StringFixed(2))
	if err != nil {
		return primitive.Decimal128{}, errors.Wrapf(err, "convert %s to decimal128", d)
	}
	return v, nil
}

func fromDecimal128(v primitive.Decimal128) (decimal.Decimal, error) {
	return decimal.NewFromString(v.String())
}
