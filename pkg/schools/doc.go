// Package schools provides read access to schools, the billable tenants.
//
// A school has one manager (a user) and at most one linked subscription. The
// link itself is written by pkg/billing inside its mirror transactions; this
// package only reads.
//
//	school, err := service.GetSchoolBySlug(ctx, "riverside-high")
//	if errors.Is(err, schools.ErrSchoolNotFound) {
//		// 404
//	}
package schools
