// Package paygate provides a multi-provider payment gateway that fronts
// several acquirer and PSP integrations behind one standardized API. It
// reconciles order amounts against rounded line items before authorization,
// handles 3D Secure callbacks and provider webhooks, and keeps a per-tenant
// configuration and audit trail.
//
// # Overview
//
// Checkout totals rarely survive per-unit rounding intact: a cart priced at
// the order level does not always equal the sum of its rounded line items.
// Every adapter therefore runs the order through the reconcile package
// before it reaches the provider, so the amount authorized always equals
// the order total the shopper saw.
//
// # Architecture
//
// The payment flow follows this pattern:
//
//	┌─────────────────┐    ┌─────────────────┐    ┌─────────────────┐
//	│                 │    │                 │    │                 │
//	│   Storefronts   │◄──►│    PayGate      │◄──►│   Payment       │
//	│  (per tenant)   │    │   (Gateway)     │    │   Providers     │
//	│                 │    │                 │    │                 │
//	└─────────────────┘    └─────────────────┘    └─────────────────┘
//
// # Supported Providers
//
//   - DIBS: hosted window payments with minor-unit amounts and MD5 keys
//   - DataCash: XML transaction API with The3rdMan fraud screening lines
//   - PayPal: Express Checkout with itemized payment details
//   - Authorize.Net: card-not-present processing through a TokenEx front
//   - ICharge: generic bridge to 33 direct-to-gateway endpoints
//   - Stripe: PaymentIntents with SDK-verified webhooks
//
// # Quick Start
//
//	package main
//
//	import (
//	    "github.com/commercekit/paygate/provider"
//	    _ "github.com/commercekit/paygate/provider/dibs" // Import to register provider
//	)
//
// Providers register themselves on import. Tenants configure credentials
// through the /v1/config endpoints, and every payment call is scoped by the
// X-Tenant-ID header so one deployment serves many storefronts.
//
// # Security Features
//
//   - API key authentication
//   - Rate limiting and IP whitelisting
//   - Request validation
//   - Webhook signature validation
//   - Encrypted 3D Secure callback state
//   - Card data redaction in logs
//
// # Contributing
//
// To add a new payment provider:
//
//  1. Implement the provider.PaymentProvider interface
//  2. Add the provider package under provider/{provider}/
//  3. Register the provider in provider/{provider}/register.go
//  4. Add tests covering the provider's amount handling
package paygate
