package gateway

import (
	"context"
	"crypto/hmac"
	"fmt"
	"net/http"
	"strings"

	midtrans "github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/coreapi"
	"github.com/midtrans/midtrans-go/snap"
)

type snapCreator interface {
	CreateTransaction(req *snap.Request) (*snap.Response, *midtrans.Error)
}

type statusChecker interface {
	CheckTransaction(orderID string) (*coreapi.TransactionStatusResponse, *midtrans.Error)
}

// MidtransGateway opens Snap checkouts and validates Midtrans callbacks.
type MidtransGateway struct {
	snap      snapCreator
	status    statusChecker
	serverKey string
}

// NewMidtransGateway builds Snap and Core API clients for the sandbox or
// production environment.
func NewMidtransGateway(serverKey string, production bool) *MidtransGateway {
	env := midtrans.Sandbox
	if production {
		env = midtrans.Production
	}
	snapClient := &snap.Client{}
	snapClient.New(serverKey, env)
	coreClient := &coreapi.Client{}
	coreClient.New(serverKey, env)
	return &MidtransGateway{snap: snapClient, status: coreClient, serverKey: serverKey}
}

// CreateOrder opens a Snap transaction. Midtrans takes whole currency units
// only; fractional amounts are refused rather than rounded.
func (g *MidtransGateway) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.OrderID == "" {
		return nil, fmt.Errorf("%w: order id required", ErrProvider)
	}
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", ErrProvider)
	}
	if !req.Amount.Equal(req.Amount.Truncate(0)) {
		return nil, fmt.Errorf("%w: amount %s is not a whole currency unit", ErrProvider, req.Amount.String())
	}
	gross := req.Amount.IntPart()

	snapReq := &snap.Request{
		TransactionDetails: midtrans.TransactionDetails{
			OrderID:  req.OrderID,
			GrossAmt: gross,
		},
		Items: &[]midtrans.ItemDetails{{
			ID:       req.OrderID,
			Name:     truncate(req.Description, 50),
			Price:    gross,
			Qty:      1,
			Category: "COURSE_FEE",
		}},
	}
	if req.Customer.Email != "" || req.Customer.Name != "" {
		snapReq.CustomerDetail = &midtrans.CustomerDetails{
			FName: req.Customer.Name,
			Email: req.Customer.Email,
		}
	}

	resp, mErr := g.snap.CreateTransaction(snapReq)
	if mErr != nil {
		return nil, fmt.Errorf("%w: %s", ErrProvider, mErr.Message)
	}
	return &Order{
		OrderID:     req.OrderID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Token:       resp.Token,
		RedirectURL: resp.RedirectURL,
	}, nil
}

// CheckPayment asks Midtrans for the current status of an order. The status
// response carries the same signature_key as a webhook and is checked the
// same way.
func (g *MidtransGateway) CheckPayment(ctx context.Context, orderID string) (*Notification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if g.status == nil {
		return nil, fmt.Errorf("%w: status client not configured", ErrProvider)
	}
	resp, mErr := g.status.CheckTransaction(orderID)
	if mErr != nil {
		if mErr.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrPaymentNotFound, orderID)
		}
		return nil, fmt.Errorf("%w: %s", ErrProvider, mErr.Message)
	}
	if resp == nil || resp.StatusCode == "404" {
		return nil, fmt.Errorf("%w: %s", ErrPaymentNotFound, orderID)
	}

	n := Notification{
		OrderID:           resp.OrderID,
		TransactionID:     resp.TransactionID,
		TransactionStatus: resp.TransactionStatus,
		FraudStatus:       resp.FraudStatus,
		StatusCode:        resp.StatusCode,
		GrossAmount:       resp.GrossAmount,
		PaymentType:       resp.PaymentType,
		SignatureKey:      resp.SignatureKey,
	}
	if n.OrderID != orderID || !g.VerifyNotification(n) {
		return nil, fmt.Errorf("%w: status response for %s failed signature check", ErrProvider, orderID)
	}
	return &n, nil
}

// VerifyNotification checks the signature_key Midtrans attaches to HTTP notifications.
func (g *MidtransGateway) VerifyNotification(n Notification) bool {
	if g.serverKey == "" || n.SignatureKey == "" {
		return false
	}
	want := notificationSignature(n, g.serverKey)
	return hmac.Equal([]byte(want), []byte(strings.ToLower(n.SignatureKey)))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
