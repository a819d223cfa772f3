package ot

// Rebase 将 op 依次对齐到它没见过的并发操作之后（concurrent 按版本升序）
// 每条规则都保持 op 在文档中的"意图位置"不变
func Rebase(op EditOperation, concurrent []TransformedOperation) EditOperation {
	out := op
	for _, c := range concurrent {
		out = transform(out, c.EditOperation)
	}
	return out
}

func transform(op, c EditOperation) EditOperation {
	switch {
	case c.Type == KindInsert && (op.Type == KindInsert || op.Type == KindDelete):
		// 并发插入已提交，位置相同时总是它"赢"
		if c.Position <= op.Position {
			op.Position += c.insertLen()
		}

	case op.Type == KindInsert && c.Type == KindDelete:
		if c.Position < op.Position {
			op.Position = max(op.Position-c.Length, c.Position)
		}

	case op.Type == KindDelete && c.Type == KindDelete:
		opEnd := op.Position + op.Length
		cEnd := c.Position + c.Length

		// 重叠部分已经被 c 删掉了，收缩长度避免重复删除
		overlap := min(opEnd, cEnd) - max(op.Position, c.Position)
		if overlap > 0 {
			op.Length = max(op.Length-overlap, 0)
		}
		// c 在 op 之前删掉的部分（不含重叠）
		if c.Position < op.Position {
			op.Position -= min(cEnd, op.Position) - c.Position
		}
	}
	return op
}
