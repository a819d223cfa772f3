package ot

// Validate 检查客户端提交的原始操作，rebase 之前调用
// rebase 之后 delete 的长度可能被收缩为 0，这种情况由 Apply 当作空操作处理
func Validate(op EditOperation) error {
	if op.Position < 0 {
		return invalidf("negative position %d", op.Position)
	}
	if op.Length < 0 {
		return invalidf("negative length %d", op.Length)
	}
	switch op.Type {
	case KindInsert:
		if op.Content == "" {
			return invalidf("insert without content")
		}
	case KindDelete:
		if op.Length == 0 {
			return invalidf("delete without length")
		}
	case KindRetain:
	default:
		return invalidf("unknown operation type %q", op.Type)
	}
	return nil
}

// Apply 把 op 作用到 content 上，返回新内容；不修改入参
func Apply(content string, op EditOperation) (string, error) {
	switch op.Type {
	case KindInsert:
		r := []rune(content)
		if op.Position < 0 || op.Position > len(r) {
			return "", invalidf("insert position %d out of range [0,%d]", op.Position, len(r))
		}
		out := make([]rune, 0, len(r)+op.insertLen())
		out = append(out, r[:op.Position]...)
		out = append(out, []rune(op.Content)...)
		out = append(out, r[op.Position:]...)
		return string(out), nil

	case KindDelete:
		if op.Position < 0 || op.Length < 0 {
			return "", invalidf("delete range (%d,%d) is negative", op.Position, op.Length)
		}
		r := []rune(content)
		// 超出末尾视为与之前的删除发生了良性竞争：截断到末尾
		start := min(op.Position, len(r))
		end := min(op.Position+op.Length, len(r))
		if start == end {
			return content, nil
		}
		out := make([]rune, 0, len(r)-(end-start))
		out = append(out, r[:start]...)
		out = append(out, r[end:]...)
		return string(out), nil

	case KindRetain:
		return content, nil

	default:
		return "", invalidf("unknown operation type %q", op.Type)
	}
}

// Replay 从空内容开始按顺序重放已提交的操作
func Replay(ops []TransformedOperation) (string, error) {
	content := ""
	for _, op := range ops {
		var err error
		content, err = Apply(content, op.EditOperation)
		if err != nil {
			return "", err
		}
	}
	return content, nil
}
