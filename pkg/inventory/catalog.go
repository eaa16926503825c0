package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CreateProduct registers a product with zero stock
// 在庫0で商品を登録
func (m *Manager) CreateProduct(ctx context.Context, product *Product, userID string) error {
	if product == nil {
		return NewValidationError("product", "商品が指定されていません", "nil")
	}
	if err := ValidateProductName(product.Name); err != nil {
		return err
	}
	if err := ValidateSKU(product.SKU); err != nil {
		return err
	}
	if err := ValidateDescription(product.Description); err != nil {
		return err
	}
	if product.ID == "" {
		product.ID = NewID()
	}
	product.Stock = 0

	err := m.run(ctx, userID, func(s *session) error {
		product.CreatedAt = s.now
		if err := s.tx.CreateProduct(ctx, product); err != nil {
			return wrapStorage("create_product", "商品作成に失敗しました", err)
		}
		return s.emit(ctx, EntityProduct, product.ID, ActionCreated,
			fmt.Sprintf("商品 %s を作成しました", product.Name))
	})
	if err != nil {
		return err
	}

	m.logger.Info("商品作成完了", zap.String("product_id", product.ID), zap.String("sku", product.SKU))
	return nil
}

// GetProduct retrieves a product by ID
// IDで商品を取得
func (m *Manager) GetProduct(ctx context.Context, productID string) (*Product, error) {
	var p *Product
	err := m.run(ctx, "", func(s *session) error {
		var err error
		p, err = s.tx.GetProduct(ctx, productID)
		return wrapStorage("get_product", "商品取得に失敗しました", err)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// CreateWarehouse registers a warehouse
// 倉庫を登録
func (m *Manager) CreateWarehouse(ctx context.Context, name string) (*Warehouse, error) {
	if name == "" {
		return nil, NewValidationError("name", "倉庫名が空です", name)
	}
	w := &Warehouse{ID: NewID(), Name: name}
	err := m.run(ctx, "", func(s *session) error {
		w.CreatedAt = s.now
		return wrapStorage("create_warehouse", "倉庫作成に失敗しました", s.tx.CreateWarehouse(ctx, w))
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

// CreatePosition registers a storage position inside a warehouse
// 倉庫内に保管位置を登録
func (m *Manager) CreatePosition(ctx context.Context, warehouseID, code, userID string) (*Position, error) {
	if err := ValidatePositionCode(code); err != nil {
		return nil, err
	}
	p := &Position{ID: NewID(), WarehouseID: warehouseID, Code: code}
	err := m.run(ctx, userID, func(s *session) error {
		if _, err := s.tx.GetWarehouse(ctx, warehouseID); err != nil {
			return wrapStorage("get_warehouse", "倉庫取得に失敗しました", err)
		}
		p.CreatedAt = s.now
		if err := s.tx.CreatePosition(ctx, p); err != nil {
			return wrapStorage("create_position", "位置作成に失敗しました", err)
		}
		return s.emit(ctx, EntityPosition, p.ID, ActionCreated, fmt.Sprintf("位置 %s を作成しました", code))
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// RenamePosition changes the code of a position
// 保管位置のコードを変更
func (m *Manager) RenamePosition(ctx context.Context, positionID, code, userID string) (*Position, error) {
	if err := ValidatePositionCode(code); err != nil {
		return nil, err
	}
	var p *Position
	err := m.run(ctx, userID, func(s *session) error {
		var err error
		p, err = s.tx.GetPosition(ctx, positionID)
		if err != nil {
			return wrapStorage("get_position", "位置取得に失敗しました", err)
		}
		if p.Code == code {
			return nil
		}
		old := p.Code
		p.Code = code
		if err := s.tx.UpdatePosition(ctx, p); err != nil {
			return wrapStorage("update_position", "位置更新に失敗しました", err)
		}
		return s.emit(ctx, EntityPosition, p.ID, ActionUpdated,
			fmt.Sprintf("コードを '%s' から '%s' に変更しました", old, code))
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// DeletePosition removes a position; containers stored there lose their position
// 保管位置を削除
func (m *Manager) DeletePosition(ctx context.Context, positionID, userID string) error {
	return m.run(ctx, userID, func(s *session) error {
		p, err := s.tx.GetPosition(ctx, positionID)
		if err != nil {
			return wrapStorage("get_position", "位置取得に失敗しました", err)
		}
		if err := s.tx.DeletePosition(ctx, positionID); err != nil {
			return wrapStorage("delete_position", "位置削除に失敗しました", err)
		}
		return s.emit(ctx, EntityPosition, p.ID, ActionDeleted, fmt.Sprintf("位置 %s を削除しました", p.Code))
	})
}

// CreateContainer registers a container
// コンテナを登録
func (m *Manager) CreateContainer(ctx context.Context, container *Container, userID string) error {
	if container == nil {
		return NewValidationError("container", "コンテナが指定されていません", "nil")
	}
	if err := ValidateEAN(container.EAN); err != nil {
		return err
	}
	for _, d := range []struct {
		field string
		value decimal.Decimal
	}{
		{"width", container.Width},
		{"height", container.Height},
		{"depth", container.Depth},
		{"weight", container.Weight},
	} {
		if d.value.IsNegative() {
			return NewValidationError(d.field, "寸法は0以上である必要があります", d.value.String())
		}
	}
	if container.ID == "" {
		container.ID = NewID()
	}

	return m.run(ctx, userID, func(s *session) error {
		if container.PositionID != nil {
			if _, err := s.tx.GetPosition(ctx, *container.PositionID); err != nil {
				return wrapStorage("get_position", "位置取得に失敗しました", err)
			}
		}
		container.CreatedAt = s.now
		if err := s.tx.CreateContainer(ctx, container); err != nil {
			return wrapStorage("create_container", "コンテナ作成に失敗しました", err)
		}
		return s.emit(ctx, EntityContainer, container.ID, ActionCreated,
			fmt.Sprintf("コンテナ '%s' を作成しました", container.EAN))
	})
}

// PlaceContainer stores a container at a position, or clears it when positionID is nil
// コンテナを保管位置に配置（nilの場合は解除）
func (m *Manager) PlaceContainer(ctx context.Context, containerID string, positionID *string, userID string) (*Container, error) {
	var c *Container
	err := m.run(ctx, userID, func(s *session) error {
		var err error
		c, err = s.tx.GetContainer(ctx, containerID)
		if err != nil {
			return wrapStorage("get_container", "コンテナ取得に失敗しました", err)
		}
		to := ""
		if positionID != nil {
			p, err := s.tx.GetPosition(ctx, *positionID)
			if err != nil {
				return wrapStorage("get_position", "位置取得に失敗しました", err)
			}
			to = p.ID
		}
		from := deref(c.PositionID)
		if from == to {
			return nil
		}
		if positionID == nil {
			c.PositionID = nil
		} else {
			id := *positionID
			c.PositionID = &id
		}
		if err := s.tx.UpdateContainer(ctx, c); err != nil {
			return wrapStorage("update_container", "コンテナ更新に失敗しました", err)
		}
		return s.emit(ctx, EntityContainer, c.ID, ActionUpdated,
			fmt.Sprintf("位置を '%s' から '%s' に変更しました", from, to))
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// resolveContainer finds the container with the EAN or creates an empty one
func resolveContainer(ctx context.Context, s *session, ean string) (*Container, error) {
	c, err := s.tx.FindContainerByEAN(ctx, ean)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, wrapStorage("find_container", "コンテナ取得に失敗しました", err)
	}
	c = &Container{ID: NewID(), EAN: ean, CreatedAt: s.now}
	if err := s.tx.CreateContainer(ctx, c); err != nil {
		return nil, wrapStorage("create_container", "コンテナ作成に失敗しました", err)
	}
	if err := s.emit(ctx, EntityContainer, c.ID, ActionCreated,
		fmt.Sprintf("コンテナ '%s' を作成しました", ean)); err != nil {
		return nil, err
	}
	return c, nil
}
