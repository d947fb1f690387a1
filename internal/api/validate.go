package api

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/Blank-Slate-Dev/drivlet-sub004/internal/model"
)

func validateBookingRequest(req *model.BookingRequest) error {
	req.Customer.Name = strings.TrimSpace(req.Customer.Name)
	req.PickupAddress = strings.TrimSpace(req.PickupAddress)
	req.Vehicle.Registration = strings.ToUpper(strings.TrimSpace(req.Vehicle.Registration))
	if req.Customer.Name == "" {
		return fmt.Errorf("customer.name is required")
	}
	if req.Customer.Email != "" {
		if _, err := mail.ParseAddress(req.Customer.Email); err != nil {
			return fmt.Errorf("customer.email is invalid: %v", err)
		}
	}
	if req.Vehicle.Registration == "" {
		return fmt.Errorf("vehicle.registration is required")
	}
	if req.PickupAddress == "" {
		return fmt.Errorf("pickupAddress is required")
	}
	if req.Garage.Name == "" {
		return fmt.Errorf("garage.name is required")
	}
	if req.PickupTime != "" {
		if _, err := time.Parse(time.RFC3339, req.PickupTime); err != nil {
			return fmt.Errorf("pickupTime must be RFC3339: %v", err)
		}
	}
	return nil
}

func validateSubscriptionRequest(req *model.SubscriptionRequest, known []string) error {
	if !strings.HasPrefix(req.URL, "https://") && !strings.HasPrefix(req.URL, "http://") {
		return fmt.Errorf("url must be http(s)")
	}
	if len(req.Events) == 0 {
		return fmt.Errorf("events must not be empty")
	}
	allowed := map[string]struct{}{"*": {}}
	for _, k := range known {
		allowed[k] = struct{}{}
	}
	for _, e := range req.Events {
		if _, ok := allowed[e]; !ok {
			return fmt.Errorf("unknown event type: %s", e)
		}
	}
	return nil
}
