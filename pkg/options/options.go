package options

import (
	"fmt"
	"net"

	"github.com/spf13/pflag"
)

// IOptions defines methods to implement a generic options group.
type IOptions interface {
	// Validate validates all the required options. It can also used to complete options if needed.
	Validate() []error

	// AddFlags adds flags related to given flagset.
	AddFlags(fs *pflag.FlagSet, prefixes ...string)
}

// ValidateAddress takes an address as a string and validates it.
// If the input address is not in a valid :port or ip:port format, it returns an error.
func ValidateAddress(addr string) error {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("%q is not in a valid format (:port or ip:port): %w", addr, err)
	}

	if host != "" && net.ParseIP(host) == nil {
		// Allow hostnames as well; reject only empty-port cases below.
		if len(host) == 0 {
			return fmt.Errorf("%q is not a valid ip address", host)
		}
	}

	if _, err := net.LookupPort("tcp", portStr); err != nil {
		return fmt.Errorf("%q is not a valid number", portStr)
	}

	return nil
}
