// Package validation provides validation functions for access rules and
// connection requests. Network fields are validated with net/netip so the
// same parsing rules apply here and in the ACL engine.
package validation

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"github.com/bcnelson/ztna-hub/internal/domain"
)

// weekdays is the set of accepted day names (lowercase English).
var weekdays = map[string]bool{
	"sunday":    true,
	"monday":    true,
	"tuesday":   true,
	"wednesday": true,
	"thursday":  true,
	"friday":    true,
	"saturday":  true,
}

// ValidateCIDR validates a CIDR block in prefix notation (e.g. 10.0.0.0/8,
// ::/0). Bare addresses without a prefix length are rejected; callers should
// write host rules as /32 or /128.
func ValidateCIDR(value string) error {
	prefix, err := netip.ParsePrefix(value)
	if err != nil {
		return fmt.Errorf("invalid CIDR block: %v", err)
	}
	if prefix.Addr() != prefix.Masked().Addr() {
		return fmt.Errorf("CIDR block has host bits set (did you mean %s?)", prefix.Masked())
	}
	return nil
}

// ValidateIP validates a concrete IP address.
func ValidateIP(value string) error {
	if _, err := netip.ParseAddr(value); err != nil {
		return fmt.Errorf("invalid IP address: %v", err)
	}
	return nil
}

// ValidateProtocol validates a rule or connection protocol.
func ValidateProtocol(p domain.Protocol) error {
	switch p {
	case domain.ProtocolTCP, domain.ProtocolUDP, domain.ProtocolICMP, domain.ProtocolAll:
		return nil
	}
	return fmt.Errorf("protocol must be one of tcp, udp, icmp, all")
}

// ValidateAction validates a rule action.
func ValidateAction(a domain.RuleAction) error {
	if a != domain.ActionAllow && a != domain.ActionDeny {
		return fmt.Errorf("action must be allow or deny")
	}
	return nil
}

// ValidatePort validates a destination port. Zero is the "any port" wildcard.
func ValidatePort(port int) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535")
	}
	return nil
}

// ValidateLocalPort validates a concrete (non-wildcard) port.
func ValidateLocalPort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	return nil
}

// ValidatePriority validates a rule priority.
func ValidatePriority(priority int) error {
	if priority < 1 || priority > 100 {
		return fmt.Errorf("priority must be between 1 and 100")
	}
	return nil
}

// ValidateDayOfWeek validates a single weekday name (lowercase English,
// e.g. "monday").
func ValidateDayOfWeek(day string) error {
	if !weekdays[day] {
		return fmt.Errorf("invalid day of week (use lowercase English names, e.g. monday)")
	}
	return nil
}

// ValidateTimeOfDay validates a wall-clock time in "HH:MM" form.
func ValidateTimeOfDay(value string) error {
	_, err := ParseTimeOfDay(value)
	return err
}

// ParseTimeOfDay parses "HH:MM" into minutes since midnight.
func ParseTimeOfDay(value string) (int, error) {
	hh, mm, ok := strings.Cut(value, ":")
	if !ok || len(hh) != 2 || len(mm) != 2 {
		return 0, fmt.Errorf("time must be in HH:MM form")
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("hour must be between 00 and 23")
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("minute must be between 00 and 59")
	}
	return h*60 + m, nil
}

// ValidateTunnelClass validates a tunnel class.
func ValidateTunnelClass(c domain.TunnelClass) error {
	switch c {
	case domain.ClassSystem, domain.ClassTerminal, domain.ClassHTTPS:
		return nil
	}
	return fmt.Errorf("class must be one of system, terminal, https")
}

// ValidateAccessRule validates every field of a rule creation request,
// collecting all errors rather than stopping at the first.
func ValidateAccessRule(req *domain.CreateAccessRuleRequest) ValidationErrors {
	var errs ValidationErrors

	if err := ValidatePriority(req.Priority); err != nil {
		errs.Add("priority", strconv.Itoa(req.Priority), err.Error())
	}
	if err := ValidateAction(req.Action); err != nil {
		errs.Add("action", string(req.Action), err.Error())
	}
	if err := ValidateCIDR(req.SourceNet); err != nil {
		errs.Add("src", req.SourceNet, err.Error())
	}
	if err := ValidateCIDR(req.DestNet); err != nil {
		errs.Add("dst", req.DestNet, err.Error())
	}
	if err := ValidateProtocol(req.Protocol); err != nil {
		errs.Add("protocol", string(req.Protocol), err.Error())
	}
	if err := ValidatePort(req.DestPort); err != nil {
		errs.Add("dest_port", strconv.Itoa(req.DestPort), err.Error())
	}
	for i, day := range req.DaysOfWeek {
		if err := ValidateDayOfWeek(day); err != nil {
			errs.Add(fmt.Sprintf("days_of_week[%d]", i), day, err.Error())
		}
	}
	if req.ValidFrom != nil && req.ValidUntil != nil && !req.ValidUntil.After(*req.ValidFrom) {
		errs.Add("valid_until", req.ValidUntil.String(), "valid_until must be after valid_from")
	}
	if (req.TimeStart == "") != (req.TimeEnd == "") {
		errs.Add("time_start", req.TimeStart, "time_start and time_end must be set together")
	}
	if req.TimeStart != "" {
		if err := ValidateTimeOfDay(req.TimeStart); err != nil {
			errs.Add("time_start", req.TimeStart, err.Error())
		}
	}
	if req.TimeEnd != "" {
		if err := ValidateTimeOfDay(req.TimeEnd); err != nil {
			errs.Add("time_end", req.TimeEnd, err.Error())
		}
	}

	return errs
}

// ValidateConnectionRequest validates an evaluation input.
func ValidateConnectionRequest(req *domain.ConnectionRequest) ValidationErrors {
	var errs ValidationErrors

	if err := ValidateIP(req.SourceIP); err != nil {
		errs.Add("src_ip", req.SourceIP, err.Error())
	}
	if err := ValidateIP(req.DestIP); err != nil {
		errs.Add("dst_ip", req.DestIP, err.Error())
	}
	if err := ValidateProtocol(req.Protocol); err != nil {
		errs.Add("protocol", string(req.Protocol), err.Error())
	}
	if err := ValidatePort(req.DestPort); err != nil {
		errs.Add("dst_port", strconv.Itoa(req.DestPort), err.Error())
	}

	return errs
}
