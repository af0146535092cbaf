package shared

import (
	"fmt"

	"github.com/google/uuid"
)

// POSCompanyLockKey builds the redis key serialising POS sync and posting per company.
func POSCompanyLockKey(companyID uuid.UUID) string {
	return fmt.Sprintf("pos:company:%s:lock", companyID)
}
