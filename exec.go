package chain

// ToRowsAffected runs a command that does not return rows (INSERT, UPDATE,
// DELETE, DDL) and reports how many rows it touched, or -1 when the driver
// does not say.
//
// The builder is asked for NoColumns, so an Insert is rendered without a
// RETURNING clause.
//
// Example:
//
//	n, err := chain.ToRowsAffected(db.SQL(`UPDATE users SET active = ? WHERE id = ?`, false, 7)).
//		ExecuteContext(ctx, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println("rows:", n)
func ToRowsAffected(b CommandBuilder) *Materializer[int64] {
	return FromRowsAffected(b, func(n *int64) (int64, error) {
		if n == nil {
			return -1, nil
		}
		return *n, nil
	})
}

// ToNonQuery runs a command and discards its result.
func ToNonQuery(b CommandBuilder) *Materializer[struct{}] {
	return FromRowsAffected(b, func(*int64) (struct{}, error) { return struct{}{}, nil })
}
