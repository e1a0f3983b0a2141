package storage

import (
	"fmt"
	"strconv"
	"strings"
)

// ProductPrefix returns the object prefix holding every artifact of a product, e.g.
// "certificates/100/".
func ProductPrefix(root string, productID int) (string, error) {
	if productID <= 0 {
		return "", fmt.Errorf("storage: product id must be positive, got %d", productID)
	}
	root = strings.Trim(strings.TrimSpace(root), "/")
	if root != "" {
		if _, err := validateSegment("root", root); err != nil {
			return "", err
		}
		return root + "/" + strconv.Itoa(productID) + "/", nil
	}
	return strconv.Itoa(productID) + "/", nil
}

// ValidateObjectKey checks an object key received from the generation pipeline.
func ValidateObjectKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errInvalidObject
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return "", fmt.Errorf("storage: object key %q contains invalid path characters", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return "", fmt.Errorf("storage: object key %q contains invalid segment", key)
		}
	}
	return key, nil
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: %s is required", name)
	}
	if strings.Contains(value, "\\") || strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	}
	return value, nil
}
